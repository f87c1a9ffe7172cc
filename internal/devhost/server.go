// Package devhost runs an extension script outside the browser runtime. It
// bootstraps the plugin against an in-process host and exposes each websocket
// connection to a page as one extension instance.
package devhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zot/xwalk-lua/internal/config"
	"github.com/zot/xwalk-lua/internal/host/inproc"
	"github.com/zot/xwalk-lua/internal/plugin"
)

// ErrNotLoaded is returned when the script failed its last bootstrap.
var ErrNotLoaded = errors.New("extension not loaded")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev host only listens locally by default
	},
}

// conn is one instance of one plugin load: a page connection, or a virtual
// instance whose messages queue in mailbox.
type conn struct {
	ws       *websocket.Conn
	instance int32
	host     *inproc.Host
	writeMu  sync.Mutex
	mailbox  []string
}

func (c *conn) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		if f.Type == FrameMessage {
			c.mailbox = append(c.mailbox, f.Data)
		}
		return nil
	}
	return c.ws.WriteJSON(f)
}

func (c *conn) drain() []string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msgs := c.mailbox
	c.mailbox = nil
	return msgs
}

func (c *conn) close() {
	if c.ws != nil {
		c.ws.Close()
	}
}

// Status describes the current plugin load.
type Status struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Module    string `json:"module"`
	Instances int    `json:"instances"`
	Error     string `json:"error,omitempty"`
}

// Server hosts one extension script.
type Server struct {
	config  *config.Config
	script  string
	svc     ChanSvc
	mux     *http.ServeMux
	watcher *Watcher

	// owned by the svc goroutine
	host    *inproc.Host
	plugin  *plugin.Plugin
	loadErr error

	mu    sync.Mutex
	conns map[int32]*conn

	httpServer *http.Server
}

// New creates a server for cfg.Extension.Script. Call Start to load it.
func New(cfg *config.Config) (*Server, error) {
	if cfg.Extension.Script == "" {
		return nil, fmt.Errorf("no script given")
	}
	script, err := filepath.Abs(cfg.Extension.Script)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config: cfg,
		script: script,
		svc:    make(ChanSvc),
		mux:    http.NewServeMux(),
		conns:  make(map[int32]*conn),
	}
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/sync", s.handleSync)
	s.mux.HandleFunc("/extension.js", s.handleExtensionJS)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/", s.handleRoot)
	return s, nil
}

// Log logs a message via the config.
func (s *Server) Log(level int, format string, args ...interface{}) {
	s.config.Log(level, format, args...)
}

// ExtensionPath is the plugin library path the host publishes for the
// script: /dir/echo.lua is served as if loaded from /dir/libecho.so.
func ExtensionPath(script string) string {
	dir, base := filepath.Split(script)
	return filepath.Join(dir, "lib"+strings.TrimSuffix(base, ".lua")+".so")
}

// Start runs the executor, loads the script and, when configured, starts
// watching the script directory. A script that fails to load leaves the
// server up with the error in Status; the next change reloads it.
func (s *Server) Start() error {
	RunSvc(s.svc)
	SvcSync(s.svc, func() (bool, error) {
		return true, s.load()
	})
	if !s.config.Dev.Watch {
		return nil
	}
	w, err := NewWatcher(s.config, filepath.Dir(s.script), s.Reload)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// load bootstraps a fresh plugin. Runs on the executor.
func (s *Server) load() error {
	h := inproc.New(ExtensionPath(s.script))
	h.SetSink(s.deliver)
	p := plugin.New(s.config)
	if err := p.Initialize(h); err != nil {
		s.host, s.plugin, s.loadErr = nil, p, err
		return err
	}
	s.host, s.plugin, s.loadErr = h, p, nil
	s.Log(0, "devhost: loaded extension %q from %s", p.Registry().ExtensionName(), s.script)
	return nil
}

// unload closes every connection and shuts the plugin down. Runs on the executor.
func (s *Server) unload() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[int32]*conn)
	s.mu.Unlock()
	for _, c := range conns {
		c.send(Frame{Type: FrameReload})
		c.close()
	}
	if s.host != nil {
		s.host.Shutdown()
		s.host = nil
	}
}

// Reload shuts the current plugin down and bootstraps the script again.
// Connected pages are told to reload.
func (s *Server) Reload() error {
	_, err := SvcSync(s.svc, func() (bool, error) {
		s.Log(1, "devhost: reloading %s", s.script)
		s.unload()
		return true, s.load()
	})
	if err != nil {
		s.Log(0, "devhost: reload failed: %v", err)
	}
	return err
}

// Status reports the current plugin load.
func (s *Server) Status() Status {
	st, _ := SvcSync(s.svc, func() (Status, error) {
		st := Status{State: plugin.Unloaded.String()}
		if s.plugin != nil {
			st.State = s.plugin.State().String()
			st.Module = s.plugin.Location().Module
			if reg := s.plugin.Registry(); reg != nil {
				st.Name = reg.ExtensionName()
			}
		}
		if s.host != nil {
			st.Instances = s.host.Live()
		}
		if s.loadErr != nil {
			st.Error = s.loadErr.Error()
		}
		return st, nil
	})
	return st
}

// deliver routes a message the extension posted to the instance's page.
func (s *Server) deliver(instance int32, message string) {
	s.mu.Lock()
	c := s.conns[instance]
	s.mu.Unlock()
	if c == nil {
		s.Log(1, "devhost: message for unknown instance %d dropped", instance)
		return
	}
	s.Log(3, "devhost: -> %d %s", instance, message)
	if err := c.send(Frame{Type: FrameMessage, Data: message}); err != nil {
		s.Log(1, "devhost: write to instance %d failed: %v", instance, err)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log(0, "devhost: websocket upgrade failed: %v", err)
		return
	}
	c, err := SvcSync(s.svc, func() (*conn, error) {
		return s.attach(ws)
	})
	if err != nil {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		ws.Close()
		return
	}
	s.Log(1, "devhost: instance %d connected", c.instance)
	s.readLoop(c)
}

// attach creates an instance for ws, or a virtual instance when ws is nil.
// Runs on the executor.
func (s *Server) attach(ws *websocket.Conn) (*conn, error) {
	if s.host == nil {
		return nil, ErrNotLoaded
	}
	c := &conn{ws: ws, host: s.host, instance: s.host.NextInstance()}
	// the page learns its id, and the connection is routable, before the
	// created callback runs, so the callback can post to it
	if err := c.send(Frame{Type: FrameInstance, Instance: c.instance}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conns[c.instance] = c
	s.mu.Unlock()
	if _, err := s.host.CreateInstance(); err != nil {
		s.mu.Lock()
		delete(s.conns, c.instance)
		s.mu.Unlock()
		return nil, err
	}
	return c, nil
}

func (s *Server) readLoop(c *conn) {
	defer s.disconnect(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := ParseFrame(data)
		if err != nil || f.Type != FramePost {
			s.Log(1, "devhost: bad frame from instance %d: %s", c.instance, data)
			continue
		}
		s.Log(3, "devhost: <- %d %s", c.instance, f.Data)
		// waiting keeps messages from one page in order
		SvcSync(s.svc, func() (bool, error) {
			if c.host != s.host {
				return false, ErrNotLoaded
			}
			return true, c.host.Send(c.instance, f.Data)
		})
	}
}

// disconnect fires instance-destroyed, unless the plugin the connection
// belonged to was already unloaded.
func (s *Server) disconnect(c *conn) {
	c.close()
	SvcSync(s.svc, func() (bool, error) {
		s.mu.Lock()
		if s.conns[c.instance] == c {
			delete(s.conns, c.instance)
		}
		s.mu.Unlock()
		if c.host == s.host {
			c.host.DestroyInstance(c.instance)
		}
		return true, nil
	})
	s.Log(1, "devhost: instance %d disconnected", c.instance)
}

// OpenInstance creates an instance no page is attached to. Messages the
// extension posts to it are kept for ReadMessages.
func (s *Server) OpenInstance() (int32, error) {
	c, err := SvcSync(s.svc, func() (*conn, error) {
		return s.attach(nil)
	})
	if err != nil {
		return 0, err
	}
	s.Log(1, "devhost: virtual instance %d opened", c.instance)
	return c.instance, nil
}

// virtual returns the open virtual instance with id instance.
func (s *Server) virtual(instance int32) (*conn, error) {
	s.mu.Lock()
	c := s.conns[instance]
	s.mu.Unlock()
	if c == nil || c.ws != nil {
		return nil, fmt.Errorf("no virtual instance %d", instance)
	}
	return c, nil
}

// PostMessage delivers an async message to the extension for instance.
func (s *Server) PostMessage(instance int32, message string) error {
	_, err := SvcSync(s.svc, func() (bool, error) {
		if s.host == nil {
			return false, ErrNotLoaded
		}
		return true, s.host.Send(instance, message)
	})
	return err
}

// SendSyncMessage delivers a sync message to the extension for instance and
// returns the reply.
func (s *Server) SendSyncMessage(instance int32, message string) (string, error) {
	return SvcSync(s.svc, func() (string, error) {
		if s.host == nil {
			return "", ErrNotLoaded
		}
		return s.host.SendSync(instance, message)
	})
}

// ReadMessages returns and clears the messages posted to a virtual instance.
func (s *Server) ReadMessages(instance int32) ([]string, error) {
	c, err := s.virtual(instance)
	if err != nil {
		return nil, err
	}
	return c.drain(), nil
}

// CloseInstance destroys a virtual instance.
func (s *Server) CloseInstance(instance int32) error {
	c, err := s.virtual(instance)
	if err != nil {
		return err
	}
	s.disconnect(c)
	return nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	instance, err := strconv.ParseInt(r.URL.Query().Get("instance"), 10, 32)
	if err != nil {
		http.Error(w, "bad instance", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply, err := s.SendSyncMessage(int32(instance), string(body))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNotLoaded) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, reply)
}

// PageScript returns the script a page loads to get the extension's API.
func (s *Server) PageScript() (string, error) {
	return SvcSync(s.svc, func() (string, error) {
		if s.host == nil {
			return "", ErrNotLoaded
		}
		return ExtensionScript(s.host.Name, s.host.JavaScript), nil
	})
}

func (s *Server) handleExtensionJS(w http.ResponseWriter, r *http.Request) {
	js, err := s.PageScript()
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-store")
	if err != nil {
		msg, _ := json.Marshal(s.Status().Error)
		fmt.Fprintf(w, "console.error(\"xwalk-lua: extension not loaded:\", %s);\n", msg)
		return
	}
	io.WriteString(w, js)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}

// handleRoot serves the script directory, with a default console page when
// it has no index.html.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Dir(s.script)
	if r.URL.Path == "/" || r.URL.Path == "/index.html" {
		f, err := http.Dir(dir).Open("/index.html")
		if err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, defaultPage)
			return
		}
		f.Close()
	}
	http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts everything down.
// ready, if not nil, receives the base URL once the listener is open.
func (s *Server) ListenAndServe(ctx context.Context, ready func(url string)) error {
	addr := fmt.Sprintf("%s:%d", s.config.Dev.Host, s.config.Dev.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{Handler: s.mux}
	errs := make(chan error, 1)
	go func() {
		errs <- s.httpServer.Serve(listener)
	}()
	url := "http://" + listener.Addr().String()
	s.Log(0, "devhost: serving %s on %s", s.script, url)
	if ready != nil {
		ready(url)
	}
	select {
	case err := <-errs:
		s.Close()
		return err
	case <-ctx.Done():
		s.httpServer.Shutdown(context.Background())
		s.Close()
		return nil
	}
}

// Close stops the watcher and shuts the plugin down.
func (s *Server) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	SvcSync(s.svc, func() (bool, error) {
		s.unload()
		return true, nil
	})
}
