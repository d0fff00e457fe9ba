package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"slidecollab/internal/client"
)

const SlideCtlVersion = "0.1.0"

const connectTimeout = 15 * time.Second

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Slide collaboration control.

The default url is http://localhost:8080

Usage:
    slidectl watch [--url=<url>] --user=<name> --slide=<slide_id> [-v]
    slidectl save [--url=<url>] --user=<name> --slide=<slide_id> --file=<svg_file> [-v]
    slidectl modify [--url=<url>] --user=<name> --slide=<slide_id> --payload=<json> [-v]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Server url [default: http://localhost:8080].
    --user=<name>          Nickname to log in with.
    --slide=<slide_id>     Slide to join.
    --file=<svg_file>      Snapshot to save.
    --payload=<json>       Editing operation to broadcast.
    -v                     Verbose logging.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SlideCtlVersion)
	if err != nil {
		panic(err)
	}

	flag.Set("logtostderr", "true")
	if verbose, _ := opts.Bool("-v"); verbose {
		flag.Set("v", "2")
	}
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch_, _ := opts.Bool("watch"); watch_ {
		err = watch(ctx, opts)
	} else if save_, _ := opts.Bool("save"); save_ {
		err = save(ctx, opts)
	} else if modify_, _ := opts.Bool("modify"); modify_ {
		err = modify(ctx, opts)
	}
	if err != nil {
		Err.Printf("%s", err)
		glog.Flush()
		os.Exit(1)
	}
}

func newClient(opts docopt.Opts, events client.Events) (*client.Client, error) {
	url, _ := opts.String("--url")
	user, _ := opts.String("--user")
	slideIDStr, _ := opts.String("--slide")

	slideID, err := strconv.ParseInt(slideIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid slide id %q", slideIDStr)
	}
	return client.NewWithDefaults(url, user, slideID, events)
}

// print peer events and state transitions until interrupted
func watch(ctx context.Context, opts docopt.Opts) error {
	c, err := newClient(opts, client.Events{
		StateChanged: func(state client.State) {
			Out.Printf("[state] %s", state)
		},
		Drawing: func(payload json.RawMessage) {
			Out.Printf("[drawing] %s", payload)
		},
		Saved: func(slideID string) {
			Out.Printf("[saved] slide %s", slideID)
		},
		UserJoined: func(username string) {
			Out.Printf("[joined] %s", username)
		},
		Error: func(message string) {
			Out.Printf("[error] %s", message)
		},
	})
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

func save(ctx context.Context, opts docopt.Opts) error {
	path, _ := opts.String("--file")
	snapshot, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return withConnection(ctx, opts, func(c *client.Client) error {
		if err := c.Save(ctx, string(snapshot)); err != nil {
			return err
		}
		Out.Printf("Saved %s (%d bytes)", path, len(snapshot))
		return nil
	})
}

func modify(ctx context.Context, opts docopt.Opts) error {
	payload, _ := opts.String("--payload")
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid json")
	}

	return withConnection(ctx, opts, func(c *client.Client) error {
		if c.State() != client.Connected {
			return fmt.Errorf("not connected")
		}
		if err := c.Modify(ctx, json.RawMessage(payload)); err != nil {
			return err
		}
		Out.Printf("Sent")
		return nil
	})
}

// withConnection runs f once the client is connected or has given up
// connecting. Save still works without a connection.
func withConnection(ctx context.Context, opts docopt.Opts, f func(*client.Client) error) error {
	connected := make(chan struct{})
	c, err := newClient(opts, client.Events{
		StateChanged: func(state client.State) {
			glog.V(1).Infof("[state] %s", state)
			if state == client.Connected {
				select {
				case <-connected:
				default:
					close(connected)
				}
			}
		},
		Error: func(message string) {
			glog.Infof("[error] %s", message)
		},
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-connected:
	case err := <-done:
		glog.Infof("Realtime connection unavailable: %v", err)
		done <- err
	case <-time.After(connectTimeout):
		glog.Infof("Realtime connection not ready after %s", connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	return f(c)
}
