package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpost_commands_total",
		Help: "Total bot commands handled",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpost_command_errors_total",
		Help: "Total bot commands that ended in an error",
	}, []string{"command", "kind"})
	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trendpost_command_duration_seconds",
		Help:    "Command handling duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpost_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	APIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trendpost_api_errors_total",
		Help: "API calls that failed, by service and error kind",
	}, []string{"service", "kind"})
	Publishes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendpost_publishes_total",
		Help: "Posts published to X",
	})
	Unauthorized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendpost_unauthorized_total",
		Help: "Updates dropped because the sender is not authorized",
	})
)

func init() {
	prometheus.MustRegister(CommandRuns, CommandErrors, CommandDuration, APIRetries, APIErrors, Publishes, Unauthorized)
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// Serve runs the metrics server on addr (e.g., ":9090") until ctx is done.
// An empty addr falls back to METRICS_ADDR; if that is empty too, Serve
// blocks until ctx is done without listening.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ObserveCommand records a command duration.
func ObserveCommand(command string, start time.Time) {
	CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// IncAPIError counts a failed API call.
func IncAPIError(service, kind string) { APIErrors.WithLabelValues(service, kind).Inc() }
