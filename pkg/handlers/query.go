package handlers

import (
	"context"
	"encoding/json"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/query"
)

type queryParams struct {
	Query string `json:"query"`
}

func (h *handlers) queryDataview(ctx context.Context, params json.RawMessage) (any, error) {
	if h.deps.Query == nil {
		return nil, ErrQueryUnavailable
	}
	var p queryParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	result, err := h.deps.Query.Query(ctx, p.Query)
	if err != nil {
		if qe, ok := query.AsError(err); ok {
			return nil, dispatcher.Fail("%s", qe.Message)
		}
		return nil, err
	}
	return result, nil
}
