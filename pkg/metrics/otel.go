package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// instruments is shared by a handler and every handler derived from it with WithTags.
type instruments struct {
	meter otelmetric.Meter

	countersMtx sync.Mutex
	counters    map[string]otelmetric.Int64Counter
	histosMtx   sync.Mutex
	histos      map[string]otelmetric.Int64Histogram
}

type otelHandler struct {
	inst *instruments
	tags map[string]string
}

type otelInt64Counter struct {
	c    otelmetric.Int64Counter
	base map[string]string
}

func (o *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	o.c.Add(ctx, value, otelmetric.WithAttributes(attributes(o.base, tags)...))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

type otelInt64Histogram struct {
	h    otelmetric.Int64Histogram
	base map[string]string
}

func (o *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	o.h.Record(ctx, value, otelmetric.WithAttributes(attributes(o.base, tags)...))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	h.inst.countersMtx.Lock()
	defer h.inst.countersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.inst.counters[name]
	var err error
	if !ok {
		c, err = h.inst.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.inst.counters[name] = c
	}

	return &otelInt64Counter{c: c, base: h.tags}
}

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h.inst.histosMtx.Lock()
	defer h.inst.histosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.inst.histos[name]
	var err error
	if !ok {
		c, err = h.inst.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.inst.histos[name] = c
	}

	return &otelInt64Histogram{h: c, base: h.tags}
}

func (h *otelHandler) WithTags(tags map[string]string) Handler {
	merged := make(map[string]string, len(h.tags)+len(tags))
	for k, v := range h.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return &otelHandler{inst: h.inst, tags: merged}
}

// attributes merges base and tags, tags winning, in a stable order.
func attributes(base map[string]string, tags map[string]string) []attribute.KeyValue {
	if len(base) == 0 && len(tags) == 0 {
		return nil
	}

	merged := make(map[string]string, len(base)+len(tags))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rv := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		rv = append(rv, attribute.String(k, merged[k]))
	}
	return rv
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		inst: &instruments{
			meter:    provider.Meter(name),
			counters: make(map[string]otelmetric.Int64Counter),
			histos:   make(map[string]otelmetric.Int64Histogram),
		},
	}
}

var _ Handler = (*otelHandler)(nil)
