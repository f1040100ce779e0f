// forgegen builds the sample shop catalog and prints the generated source of
// every operation pipeline. With -serve it also hosts the catalog over HTTP.
// Run: go run ./cmd/forgegen [-config forge.yaml] [-out dir] [-serve :8080]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syssam/forge/cmd/forgegen/shop"
	"github.com/syssam/forge/httpapi"
	"github.com/syssam/forge/pipeline"
)

func main() {
	var (
		config = flag.String("config", "", "YAML config file")
		out    = flag.String("out", "", "directory to write generated sources to instead of stdout")
		op     = flag.String("op", "", "only dump the named operation")
		serve  = flag.String("serve", "", "address to serve the catalog on after dumping")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *config, *out, *op, *serve, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "forgegen: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config, out, op, serve string, w io.Writer) error {
	reg := prometheus.NewRegistry()
	exec, err := build(ctx, config, reg)
	if err != nil {
		return err
	}
	if err := dump(exec, out, op, w); err != nil {
		return err
	}
	if serve == "" {
		return nil
	}

	r := httpapi.NewRouter(exec, shop.Viewers)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: serve, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(w, "serving %s on %s\n", exec.ApplicationName(), serve)
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// build assembles the shop catalog with the options from config, or with
// the interpreter and a text logger when config is empty.
func build(ctx context.Context, config string, reg prometheus.Registerer) (*pipeline.Executor, error) {
	metrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{pipeline.WithApplicationName("shop")}
	if config != "" {
		fc, err := pipeline.LoadConfig(config)
		if err != nil {
			return nil, err
		}
		fopts, err := fc.Options(os.Stderr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fopts...)
	} else {
		logger, err := pipeline.NewLogger("info", "text", os.Stderr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithLogger(logger))
	}
	opts = append(opts, pipeline.WithMetrics(metrics))

	b := pipeline.NewBuilder(opts...).Use(pipeline.MetricsMiddleware())
	return shop.Register(b, shop.NewStore()).Build(ctx)
}

// dump writes the generated source of each operation to w, or to
// <out>/<operation>.go when out is set.
func dump(exec *pipeline.Executor, out, only string, w io.Writer) error {
	if out != "" {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	var found bool
	for _, op := range exec.Operations() {
		if only != "" && op.Name != only {
			continue
		}
		found = true
		src, ok := exec.Source(op.Name)
		if !ok {
			return fmt.Errorf("no source for operation %s", op.Name)
		}
		if out == "" {
			fmt.Fprintf(w, "// --- %s (%s) ---\n%s\n", op.Name, op.TypeName(), src)
			continue
		}
		path := filepath.Join(out, strings.ToLower(op.Name)+".go")
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", op.Name, err)
		}
		fmt.Fprintf(w, "%s -> %s\n", op.Name, path)
	}
	if only != "" && !found {
		return fmt.Errorf("%w: %s", pipeline.ErrUnknownOperation, only)
	}
	return nil
}
