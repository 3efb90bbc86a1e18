// Command scoresync-convertd serves the MusicXML to MIDI conversion API used
// by scoresync --use-api.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/scoresync/pkg/convert"
	"github.com/zurustar/scoresync/pkg/convertd"
	"github.com/zurustar/scoresync/pkg/logger"
)

const (
	defaultAddr     = ":8000"
	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is done. ready, when set, receives the bound address.
func run(ctx context.Context, args []string, out io.Writer, ready func(net.Addr)) error {
	fs := flag.NewFlagSet("scoresync-convertd", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", "", "listen address (default "+defaultAddr+", env CONVERTD_ADDR)")
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	maxUpload := fs.Int64("max-upload", convertd.DefaultMaxUploadSize, "maximum upload size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *addr == "" {
		*addr = os.Getenv("CONVERTD_ADDR")
	}
	if *addr == "" {
		*addr = defaultAddr
	}

	if err := logger.InitLoggerTo(out, *level); err != nil {
		return err
	}
	log := logger.GetLogger()

	handler := convertd.New(convertd.Options{
		Version:       convert.Version,
		MaxUploadSize: *maxUpload,
		Logger:        log,
	})
	defer handler.Close()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Conversion service listening", "addr", ln.Addr().String(), "version", convert.Version)
	if ready != nil {
		ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// SSE接続を先に閉じないとShutdownが待ち続ける
		handler.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
