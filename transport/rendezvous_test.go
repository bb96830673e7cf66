package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRendezvous(t *testing.T) {
	Convey("Given a socket path with a stale file", t, func() {
		path := filepath.Join(t.TempDir(), "fuzz.sock")
		So(os.WriteFile(path, []byte("stale"), 0o600), ShouldBeNil)

		rv, err := Listen(path)
		So(err, ShouldBeNil)
		defer rv.Close()

		Convey("The stale file is replaced and a peer can connect", func() {
			go func() {
				if conn, dialErr := net.Dial("unix", path); dialErr == nil {
					_, _ = conn.Write(EncodeReward(1))
					conn.Close()
				}
			}()

			conn, err := rv.Accept(context.Background())
			So(err, ShouldBeNil)
			defer conn.Close()

			msg, err := NewDecoder(conn).ReadMessage()
			So(err, ShouldBeNil)
			So(msg.Reward, ShouldEqual, float32(1))
		})

		Convey("Cancelling the context unblocks Accept", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err := rv.Accept(ctx)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("Close removes the socket and may be repeated", func() {
			So(rv.Close(), ShouldBeNil)
			_, statErr := os.Stat(path)
			So(os.IsNotExist(statErr), ShouldBeTrue)
			So(rv.Close(), ShouldBeNil)
		})
	})
}
