package router

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/orderfeed/internal/model"
)

// normalize decodes a raw event into the closed event set.
func normalize(raw RawEvent) (model.Event, error) {
	switch model.Kind(raw.Type) {
	case model.KindNewOrder:
		return parseNewOrder(raw.Data)

	case model.KindOrderUpdated:
		order, err := parseOrder(raw.Data)
		if err != nil {
			return nil, err
		}
		return model.OrderUpdated{Order: order}, nil

	case model.KindOrderCancelled:
		order, err := parseOrder(raw.Data)
		if err != nil {
			return nil, err
		}
		if order.Status == "" {
			order.Status = model.StatusCancelled
		}
		return model.OrderCancelled{Order: order}, nil

	case model.KindStatsUpdated:
		var wrapped statsWire
		if err := json.Unmarshal(raw.Data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", raw.Type, err)
		}
		if wrapped.Stats != nil {
			return model.StatsUpdated{Stats: *wrapped.Stats}, nil
		}
		var stats model.Stats
		if err := json.Unmarshal(raw.Data, &stats); err != nil {
			return nil, fmt.Errorf("parse %s: %w", raw.Type, err)
		}
		return model.StatsUpdated{Stats: stats}, nil

	case model.KindCountersUpdated:
		var wrapped countersWire
		if err := json.Unmarshal(raw.Data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", raw.Type, err)
		}
		if wrapped.Counters != nil {
			return model.CountersUpdated{Counters: *wrapped.Counters}, nil
		}
		var counters model.Counters
		if err := json.Unmarshal(raw.Data, &counters); err != nil {
			return nil, fmt.Errorf("parse %s: %w", raw.Type, err)
		}
		return model.CountersUpdated{Counters: counters}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Type)
}

func parseNewOrder(data json.RawMessage) (model.Event, error) {
	var wire newOrderWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse new_order: %w", err)
	}

	var order model.Order
	if wire.Order != nil {
		order = *wire.Order
	} else if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse new_order: %w", err)
	}
	if order.ID == "" {
		return nil, ErrMissingOrderID
	}
	if order.Status == "" {
		order.Status = model.StatusPending
	}

	ev := model.NewOrder{
		Order:        order,
		OrderNumber:  firstNonEmpty(wire.OrderNumber, order.OrderNumber),
		CustomerName: firstNonEmpty(wire.CustomerName, order.CustomerName),
		Total:        order.Total,
		ItemsCount:   order.ItemsCount(),
	}
	if wire.Total != nil {
		ev.Total = *wire.Total
	}
	if wire.ItemsCount != nil {
		ev.ItemsCount = *wire.ItemsCount
	}
	return ev, nil
}

// parseOrder accepts {"order": {...}} or a bare order object.
func parseOrder(data json.RawMessage) (model.Order, error) {
	var wrapped orderWire
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return model.Order{}, fmt.Errorf("parse order: %w", err)
	}

	var order model.Order
	if wrapped.Order != nil {
		order = *wrapped.Order
	} else if err := json.Unmarshal(data, &order); err != nil {
		return model.Order{}, fmt.Errorf("parse order: %w", err)
	}
	if order.ID == "" {
		return model.Order{}, ErrMissingOrderID
	}
	return order, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
