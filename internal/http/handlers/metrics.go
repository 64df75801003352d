package handlers

import (
	"bytes"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

var (
	keysIssued          prometheus.Counter
	keysRedeemed        prometheus.Counter
	redemptionsRejected *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	keysIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokengate",
		Name:      "keys_issued_total",
		Help:      "Total number of download keys minted (one token each).",
	})
	keysRedeemed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokengate",
		Name:      "keys_redeemed_total",
		Help:      "Total number of download keys successfully redeemed.",
	})
	redemptionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokengate",
			Name:      "redemptions_rejected_total",
			Help:      "Rejected redemption attempts by reason.",
		},
		[]string{"reason"},
	)
	prometheus.MustRegister(keysIssued, keysRedeemed, redemptionsRejected)
}

// RequestLogger logs every request with status and latency.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Printf("%s %s -> %d (%s) ip=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start), ctx.RemoteAddr())
	}
}

// MetricsHandler serves registered metrics in prometheus text format.
// With ?scope=app only this service's own metric families are included,
// leaving out the runtime collector families.
func MetricsHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		appOnly := string(ctx.QueryArgs().Peek("scope")) == "app"

		filtered := make([]*dto.MetricFamily, 0, len(metricFamilies))
		for _, mf := range metricFamilies {
			if len(mf.GetMetric()) == 0 {
				continue
			}
			if appOnly && !strings.HasPrefix(mf.GetName(), "tokengate_") {
				continue
			}
			filtered = append(filtered, mf)
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
