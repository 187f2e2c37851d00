package distbuild

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// RequestBuild sends a build-request to the controller at addr and streams
// build-progress/build-output to out until a terminal build-finished or
// build-failed frame arrives. It is the initiator side of spec.md 4.7's
// protocol, used by the `distbuild` CLI subcommand.
func RequestBuild(addr, repo, ref, morphology string, out io.Writer) error {
	conn, err := Dial(addr)
	if err != nil {
		return fmt.Errorf("connect to controller %s: %w", addr, err)
	}
	defer conn.Close()

	id := uuid.NewString()
	if err := conn.Send(&Message{Type: TypeBuildRequest, ID: id, Repo: repo, Ref: ref, Morphology: morphology}); err != nil {
		return err
	}

	for {
		msg, err := conn.Recv()
		if err != nil {
			return fmt.Errorf("controller connection lost: %w", err)
		}
		switch msg.Type {
		case TypeBuildProgress:
			fmt.Fprintf(out, "[progress] %s (%d/%d)\n", msg.Message, msg.N, msg.Total)
		case TypeBuildOutput:
			fmt.Fprintf(out, "[%s] %s\n", msg.Stream, msg.Text)
		case TypeBuildFinished:
			return nil
		case TypeBuildFailed:
			return fmt.Errorf("build failed: %s", msg.Reason)
		}
	}
}

// CancelBuild sends a build-cancel for id over conn.
func CancelBuild(conn *Conn, id string) error {
	return conn.Send(&Message{Type: TypeBuildCancel, ID: id})
}
