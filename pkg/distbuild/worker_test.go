package distbuild

import (
	"net"
	"testing"
	"time"
)

func TestWorkerServeExecutesRequestAndReportsExit(t *testing.T) {
	controllerEnd, workerEnd := net.Pipe()
	defer controllerEnd.Close()
	defer workerEnd.Close()

	w := NewWorker(testLogger())
	go w.Serve(NewConn(workerEnd))

	ctrlConn := NewConn(controllerEnd)
	if err := ctrlConn.Send(&Message{Type: TypeExecRequest, ID: "exec-1", Argv: []string{"sh", "-c", "echo hi; exit 3"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var sawOutput, sawResponse bool
	deadline := time.Now().Add(5 * time.Second)
	for !sawResponse {
		controllerEnd.SetReadDeadline(deadline)
		msg, err := ctrlConn.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		switch msg.Type {
		case TypeExecOutput:
			if msg.Text == "hi" {
				sawOutput = true
			}
		case TypeExecResponse:
			sawResponse = true
			if msg.Exit != 3 {
				t.Errorf("Exit = %d, want 3", msg.Exit)
			}
		}
	}
	if !sawOutput {
		t.Error("expected an exec-output frame with the echoed text")
	}
}

func TestWorkerServeExecCancelKillsLongRunningRequest(t *testing.T) {
	controllerEnd, workerEnd := net.Pipe()
	defer controllerEnd.Close()
	defer workerEnd.Close()

	w := NewWorker(testLogger())
	go w.Serve(NewConn(workerEnd))

	ctrlConn := NewConn(controllerEnd)
	if err := ctrlConn.Send(&Message{Type: TypeExecRequest, ID: "exec-1", Argv: []string{"sleep", "30"}}); err != nil {
		t.Fatalf("Send exec-request: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if err := ctrlConn.Send(&Message{Type: TypeExecCancel, ID: "exec-1"}); err != nil {
		t.Fatalf("Send exec-cancel: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		controllerEnd.SetReadDeadline(deadline)
		msg, err := ctrlConn.Recv()
		if err != nil {
			t.Fatalf("Recv (cancellation likely did not terminate the process): %v", err)
		}
		if msg.Type == TypeExecResponse {
			if msg.Exit >= 0 {
				t.Errorf("Exit = %d, want negative (signalled by cancellation)", msg.Exit)
			}
			return
		}
	}
}
