package devhost

// ChanSvc is a serial executor. Every call into the plugin runs on the one
// goroutine reading the channel, the way the real host serializes calls.
type ChanSvc chan func()

// SvcSync runs code on the executor and waits for its result.
func SvcSync[T any](s ChanSvc, code func() (T, error)) (T, error) {
	result := make(chan bool)
	var value T
	var err error
	Svc(s, func() {
		defer func() { result <- true }()
		value, err = code()
	})
	<-result
	return value, err
}

// Svc queues code on the executor without waiting.
func Svc(s ChanSvc, code func()) {
	go func() { // using a goroutine so the channel won't block
		s <- code
	}()
}

// RunSvc runs a service. Close the channel to stop it.
func RunSvc(s ChanSvc) {
	go func() {
		for {
			cmd, ok := <-s
			if !ok {
				break
			}
			cmd()
		}
	}()
}
