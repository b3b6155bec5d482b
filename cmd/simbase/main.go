// Command simbase is a development robot base: it accepts one controller at a
// time, streams simulated laser scans, and drives a simulated pose with the
// twist commands it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/barc/reactivemover/internal/auth"
	"github.com/barc/reactivemover/internal/logging"
	"github.com/barc/reactivemover/internal/protocol/frame"
	"github.com/barc/reactivemover/internal/protocol/schema"
	"github.com/barc/reactivemover/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type options struct {
	listen   string
	rate     time.Duration
	beams    int
	rangeMax float64
	width    float64
	height   float64
	token    string
}

func main() {
	var opts options
	flag.StringVar(&opts.listen, "listen", "127.0.0.1:7400", "address the controller dials")
	flag.DurationVar(&opts.rate, "rate", 100*time.Millisecond, "scan period")
	flag.IntVar(&opts.beams, "beams", 181, "readings per scan")
	flag.Float64Var(&opts.rangeMax, "range-max", 8, "sensor range in meters")
	flag.Float64Var(&opts.width, "width", 10, "room width in meters")
	flag.Float64Var(&opts.height, "height", 6, "room height in meters")
	flag.StringVar(&opts.token, "token", "", "shared token controllers must present; empty accepts any")
	flag.Parse()

	logging.ConfigureRuntime()
	if opts.beams < 2 || opts.rate <= 0 || opts.rangeMax <= 0 {
		fmt.Fprintln(os.Stderr, "simbase: need beams >= 2, rate > 0, range-max > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "simbase: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, opts options) error {
	logger := logging.Component("simbase")
	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	logger.Info().Str("listen", ln.Addr().String()).Msg("simbase.serve listening")

	w := newWorld(opts.width, opts.height, opts.beams, opts.rangeMax)
	validator := auth.ForToken(opts.token)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = session(ctx, conn, w, validator, opts.rate, logger.With().Str("remote", conn.RemoteAddr().String()).Logger())
		if err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("simbase.serve session ended")
		}
	}
}

// session serves one controller until either side fails.
func session(ctx context.Context, conn net.Conn, w *world, validator auth.Validator, rate time.Duration, logger zerolog.Logger) error {
	defer conn.Close()
	limits := frame.DefaultLimits()

	hello, err := readHello(conn, validator, 5*time.Second)
	if err != nil {
		return err
	}
	logger.Info().Str("node_id", hello.NodeID).Str("run_id", hello.RunID).Msg("simbase.session controller connected")

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	g.Go(func() error {
		for {
			f, err := frame.ReadFrame(conn, limits)
			if err != nil {
				return err
			}
			if f.Header.MessageType != schema.MsgTwist {
				continue
			}
			cmd, err := transport.DecodeTwistFrame(f)
			if err != nil {
				logger.Warn().Err(err).Msg("simbase.session bad twist")
				continue
			}
			w.apply(cmd)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		var id uint64
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			w.step(rate)
			id++
			raw, err := transport.EncodeScanFrame(id, w.scan())
			if err != nil {
				return err
			}
			if _, err := conn.Write(raw); err != nil {
				return err
			}
			if id%50 == 0 {
				x, y, heading := w.pose()
				logger.Info().Float64("x", x).Float64("y", y).Float64("heading", heading).Msg("simbase.session pose")
			}
		}
	})
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// readHello reads the opening frame and checks the presented token.
func readHello(conn net.Conn, validator auth.Validator, timeout time.Duration) (transport.Hello, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})
	f, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		return transport.Hello{}, fmt.Errorf("read hello: %w", err)
	}
	hello, err := transport.DecodeHelloFrame(f)
	if err != nil {
		return transport.Hello{}, err
	}
	if err := validator.Validate(hello.Token); err != nil {
		return transport.Hello{}, fmt.Errorf("hello from %s: %w", hello.NodeID, err)
	}
	return hello, nil
}
