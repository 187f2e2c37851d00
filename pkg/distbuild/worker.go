package distbuild

import (
	"context"
	"encoding/base64"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/baserock/morph/pkg/distbuild/helper"
)

// Worker accepts a single controller connection and executes exec-request
// frames via the exec helper, streaming results back as exec-output and
// exec-response frames.
type Worker struct {
	log *logrus.Entry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // exec-request id -> cancel
}

// NewWorker constructs a Worker.
func NewWorker(log *logrus.Entry) *Worker {
	return &Worker{log: log, cancels: make(map[string]context.CancelFunc)}
}

// ListenAndServe accepts controller connections on addr and serves each with
// Serve, sequentially (a worker daemon is controlled by exactly one
// controller at a time per spec.md 4.7's topology).
func (w *Worker) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		w.log.WithField("remote", conn.RemoteAddr()).Info("controller connected")
		w.Serve(NewConn(conn))
	}
}

// Serve handles frames from one controller connection until it closes or
// errors. Each exec-request is run in its own goroutine so a long-running
// unit does not block exec-cancel delivery for another in-flight unit.
func (w *Worker) Serve(conn *Conn) {
	defer conn.Close()

	var wg sync.WaitGroup
	for {
		msg, err := conn.Recv()
		if err != nil {
			w.log.WithError(err).Info("controller disconnected")
			break
		}

		switch msg.Type {
		case TypeExecRequest:
			wg.Add(1)
			go func(req *Message) {
				defer wg.Done()
				w.handleExecRequest(conn, req)
			}(msg)

		case TypeExecCancel:
			w.mu.Lock()
			cancel, ok := w.cancels[msg.ID]
			w.mu.Unlock()
			if ok {
				cancel()
			}
		}
	}
	wg.Wait()
}

func (w *Worker) handleExecRequest(conn *Conn, req *Message) {
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancels[req.ID] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.cancels, req.ID)
		w.mu.Unlock()
		cancel()
	}()

	var stdin []byte
	if req.StdinContents != "" {
		stdin, _ = base64.StdEncoding.DecodeString(req.StdinContents)
	}

	result, err := helper.Run(ctx, req.Argv, stdin, func(stream, text string) {
		conn.Send(&Message{Type: TypeExecOutput, ID: req.ID, Stream: stream, Text: text})
	})
	if err != nil {
		w.log.WithError(err).WithField("id", req.ID).Warn("exec-request failed to start")
		conn.Send(&Message{Type: TypeExecResponse, ID: req.ID, Exit: -1})
		return
	}
	conn.Send(&Message{Type: TypeExecResponse, ID: req.ID, Exit: result.Exit})
}
