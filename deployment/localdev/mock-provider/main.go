// Command mock-provider is a local stand-in for an external diagnosis
// service. It answers /v1/diagnose with a canned text derived from the
// highest-ranked contribution, with a configurable artificial delay so
// timeout paths can be exercised end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type diagnosisRequest struct {
	Epoch uint64 `json:"epoch"`
	Score struct {
		Statistic     float64 `json:"statistic"`
		Threshold     float64 `json:"threshold"`
		Contributions []struct {
			Variable string  `json:"variable"`
			Residual float64 `json:"residual"`
		} `json:"contributions"`
	} `json:"score"`
}

func main() {
	var (
		addr  string
		delay time.Duration
	)
	flag.StringVar(&addr, "addr", ":9101", "listen address")
	flag.DurationVar(&delay, "delay", 0, "artificial response delay")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/diagnose", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req diagnosisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		suspect := "unknown variable"
		if len(req.Score.Contributions) > 0 {
			suspect = req.Score.Contributions[0].Variable
		}
		text := fmt.Sprintf(
			"epoch %d: T2 %.2f over limit %.2f, dominant contributor %s; inspect the %s sensor chain",
			req.Epoch, req.Score.Statistic, req.Score.Threshold, suspect, suspect,
		)
		writeJSON(w, map[string]string{"diagnosis": text})
	})

	logger := log.New(log.Writer(), "mock-provider ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s (delay %s)", addr, delay)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
