package compression

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	inputBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_compression_input_bytes_total",
		Help: "Uncompressed chunk payload bytes passed to the compressor",
	}, []string{"type"})

	outputBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filequeue_compression_output_bytes_total",
		Help: "Compressed chunk payload bytes produced",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(inputBytes, outputBytes)

	for t := range codes {
		inputBytes.WithLabelValues(string(t)).Add(0)
		outputBytes.WithLabelValues(string(t)).Add(0)
	}
}

func recordCompress(t Type, in, out int) {
	if t == "" {
		t = TypeNone
	}
	inputBytes.WithLabelValues(string(t)).Add(float64(in))
	outputBytes.WithLabelValues(string(t)).Add(float64(out))
}
