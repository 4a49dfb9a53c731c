package feed

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

// FieldMap names the upstream payload fields carrying symbol, price and
// 24h percent change. Upstream-specific, so configuration rather than a
// hard-coded wire contract.
type FieldMap struct {
	Symbol string
	Price  string
	Change string
}

// DefaultFieldMap matches Binance's @ticker stream
var DefaultFieldMap = FieldMap{Symbol: "s", Price: "p", Change: "P"}

// Normalizer maps raw upstream frames into Ticks. Frames that are not valid
// JSON, or that lack a symbol or a finite positive price, are rejected.
// Rejection is silent towards the caller: the upstream is a third party and
// malformed frames are expected, not errors.
type Normalizer struct {
	fields FieldMap
	clock  Clock
	logger *zap.Logger
}

func NewNormalizer(fields FieldMap, clock Clock, logger *zap.Logger) *Normalizer {
	if fields.Symbol == "" {
		fields = DefaultFieldMap
	}
	return &Normalizer{fields: fields, clock: clock, logger: logger}
}

// Normalize returns the tick and true for an accepted frame, false otherwise.
func (n *Normalizer) Normalize(raw []byte) (models.Tick, bool) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		n.logger.Debug("Dropping non-JSON frame", zap.Error(err))
		return models.Tick{}, false
	}

	symbol, ok := stringField(payload[n.fields.Symbol])
	if !ok || symbol == "" {
		n.logger.Debug("Dropping frame without symbol")
		return models.Tick{}, false
	}

	price, ok := numericField(payload[n.fields.Price])
	if !ok || !isFinite(price) || price <= 0 {
		n.logger.Debug("Dropping frame without usable price", zap.String("symbol", symbol))
		return models.Tick{}, false
	}

	tick := models.Tick{
		Symbol:     strings.ToLower(symbol),
		Price:      price,
		ObservedAt: n.clock.Now(),
	}

	// change24h is optional upstream; absence stays a null downstream
	if change, ok := numericField(payload[n.fields.Change]); ok && isFinite(change) {
		tick.Change24h = &change
	}

	return tick, true
}

// stringField decodes a raw JSON value expected to be a string
func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// numericField accepts both JSON numbers and decimal strings; exchange
// tickers quote prices as strings to preserve precision.
func numericField(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
