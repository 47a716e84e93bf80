package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type OtelHandlerTestSuite struct {
	suite.Suite
	reader  *sdkmetric.ManualReader
	handler Handler
}

func (suite *OtelHandlerTestSuite) SetupTest() {
	suite.reader = sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(suite.reader))
	suite.handler = NewOtelHandler(context.TODO(), provider, "test")
}

func (suite *OtelHandlerTestSuite) collect() metricdata.ScopeMetrics {
	var rm metricdata.ResourceMetrics
	suite.Require().NoError(suite.reader.Collect(context.TODO(), &rm))
	suite.Require().Len(rm.ScopeMetrics, 1)
	return rm.ScopeMetrics[0]
}

func (suite *OtelHandlerTestSuite) TestInt64Counter_noattrs() {
	ctx := context.TODO()
	counter := suite.handler.Int64Counter("Test_Counter", "A counter for tests", Dimensionless)
	counter.Add(ctx, 1, nil)
	counter.Add(ctx, 2, nil)

	sm := suite.collect()
	suite.Require().Len(sm.Metrics, 1)
	suite.Equal("test_counter", sm.Metrics[0].Name)

	sum, ok := sm.Metrics[0].Data.(metricdata.Sum[int64])
	suite.Require().True(ok)
	suite.Require().Len(sum.DataPoints, 1)
	suite.Equal(int64(3), sum.DataPoints[0].Value)
	suite.Equal(0, sum.DataPoints[0].Attributes.Len())
}

func (suite *OtelHandlerTestSuite) TestInt64Counter_withtags() {
	ctx := context.TODO()
	h := suite.handler.WithTags(map[string]string{"service": "auth", "reason": "base"})
	counter := h.Int64Counter("test_counter", "A counter for tests", Dimensionless)
	counter.Add(ctx, 1, map[string]string{"reason": "expired"})

	sm := suite.collect()
	sum, ok := sm.Metrics[0].Data.(metricdata.Sum[int64])
	suite.Require().True(ok)
	suite.Require().Len(sum.DataPoints, 1)

	attrs := sum.DataPoints[0].Attributes
	v, ok := attrs.Value(attribute.Key("reason"))
	suite.True(ok)
	suite.Equal("expired", v.AsString())
	v, ok = attrs.Value(attribute.Key("service"))
	suite.True(ok)
	suite.Equal("auth", v.AsString())
}

func (suite *OtelHandlerTestSuite) TestInt64Histogram() {
	ctx := context.TODO()
	histo := suite.handler.Int64Histogram("test_histo", "A histogram for tests", Microseconds)
	histo.Record(ctx, 10, map[string]string{"result": "success"})
	histo.Record(ctx, 30, map[string]string{"result": "success"})

	sm := suite.collect()
	hist, ok := sm.Metrics[0].Data.(metricdata.Histogram[int64])
	suite.Require().True(ok)
	suite.Require().Len(hist.DataPoints, 1)
	suite.Equal(uint64(2), hist.DataPoints[0].Count)
	suite.Equal(int64(40), hist.DataPoints[0].Sum)
	suite.Equal("us", sm.Metrics[0].Unit)
}

func (suite *OtelHandlerTestSuite) TestInstrumentsAreShared() {
	a := suite.handler.Int64Counter("shared", "", Dimensionless)
	b := suite.handler.WithTags(map[string]string{"x": "y"}).Int64Counter("shared", "", Dimensionless)
	a.Add(context.TODO(), 1, nil)
	b.Add(context.TODO(), 1, nil)

	sm := suite.collect()
	suite.Require().Len(sm.Metrics, 1)
	sum, ok := sm.Metrics[0].Data.(metricdata.Sum[int64])
	suite.Require().True(ok)
	suite.Len(sum.DataPoints, 2)
}

func TestOtelHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(OtelHandlerTestSuite))
}
