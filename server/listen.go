package server

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rezroo/vhost-9pfs/vfs"
)

// ListenAndServe accepts connections on lis, handling each with ServeConn
// on its own goroutine. The errgroup ties the listener and every live
// connection together: a listener-level failure or a cancelled ctx tears
// all of them down.
func ListenAndServe(ctx context.Context, lis net.Listener, fs vfs.FS, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return lis.Close()
	})
	g.Go(func() error {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return err
			}
			g.Go(func() error {
				defer conn.Close()
				stop := context.AfterFunc(ctx, func() { conn.Close() })
				defer stop()
				if err := ServeConn(ctx, conn, fs, log); err != nil {
					log.Warn("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
				}
				return nil
			})
		}
	})
	return g.Wait()
}
