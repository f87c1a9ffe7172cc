// Package mcp exposes a running development host to agents as MCP tools, so
// an extension can be exercised without a browser page.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/zot/xwalk-lua/internal/devhost"
)

// Host is the part of the development host the tools drive.
type Host interface {
	Status() devhost.Status
	Reload() error
	PageScript() (string, error)
	OpenInstance() (int32, error)
	PostMessage(instance int32, message string) error
	SendSyncMessage(instance int32, message string) (string, error)
	ReadMessages(instance int32) ([]string, error)
	CloseInstance(instance int32) error
}

// PageScriptURI is the resource holding the extension's page script.
const PageScriptURI = "xwalk://extension.js"

// NewServer creates an MCP server with the host tools registered.
func NewServer(h Host, version string) *server.MCPServer {
	s := server.NewMCPServer("xwalk-lua", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	t := &tools{host: h}

	s.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report the loaded extension: name, bootstrap state, module, live instances and the last load error"),
	), t.status)
	s.AddTool(mcp.NewTool("reload",
		mcp.WithDescription("Shut the extension down and load the script again"),
	), t.reload)
	s.AddTool(mcp.NewTool("open_instance",
		mcp.WithDescription("Create an extension instance with no page attached and return its id"),
	), t.openInstance)
	s.AddTool(mcp.NewTool("post_message",
		mcp.WithDescription("Send an asynchronous message to the extension on behalf of an instance"),
		mcp.WithNumber("instance", mcp.Required(), mcp.Description("Instance id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message text")),
	), t.postMessage)
	s.AddTool(mcp.NewTool("send_sync_message",
		mcp.WithDescription("Send a synchronous message to the extension and return its reply"),
		mcp.WithNumber("instance", mcp.Required(), mcp.Description("Instance id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message text")),
	), t.sendSyncMessage)
	s.AddTool(mcp.NewTool("read_messages",
		mcp.WithDescription("Return and clear the messages the extension posted to an instance opened with open_instance"),
		mcp.WithNumber("instance", mcp.Required(), mcp.Description("Instance id")),
	), t.readMessages)
	s.AddTool(mcp.NewTool("close_instance",
		mcp.WithDescription("Destroy an instance opened with open_instance"),
		mcp.WithNumber("instance", mcp.Required(), mcp.Description("Instance id")),
	), t.closeInstance)

	s.AddResource(mcp.NewResource(PageScriptURI, "Extension page script",
		mcp.WithResourceDescription("The extension shim plus the extension's JavaScript API, as served to pages"),
		mcp.WithMIMEType("application/javascript"),
	), t.pageScript)
	return s
}

// Serve runs s over in and out until ctx is done or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

type tools struct {
	host Host
}

func instanceArg(req mcp.CallToolRequest) (int32, error) {
	n, err := req.RequireInt("instance")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 1<<31-1 {
		return 0, fmt.Errorf("instance %d out of range", n)
	}
	return int32(n), nil
}

func (t *tools) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(t.host.Status(), "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *tools) reload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.host.Reload(); err != nil {
		return mcp.NewToolResultErrorFromErr("reload failed", err), nil
	}
	return mcp.NewToolResultText("reloaded"), nil
}

func (t *tools) openInstance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := t.host.OpenInstance()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("could not open instance", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprint(id)), nil
}

func (t *tools) postMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := instanceArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.host.PostMessage(id, msg); err != nil {
		return mcp.NewToolResultErrorFromErr("post failed", err), nil
	}
	return mcp.NewToolResultText("posted"), nil
}

func (t *tools) sendSyncMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := instanceArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := t.host.SendSyncMessage(id, msg)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("sync message failed", err), nil
	}
	return mcp.NewToolResultText(reply), nil
}

func (t *tools) readMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := instanceArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs, err := t.host.ReadMessages(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(msgs, "\n")), nil
}

func (t *tools) closeInstance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := instanceArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.host.CloseInstance(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("closed"), nil
}

func (t *tools) pageScript(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	js, err := t.host.PageScript()
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: PageScriptURI, MIMEType: "application/javascript", Text: js},
	}, nil
}
