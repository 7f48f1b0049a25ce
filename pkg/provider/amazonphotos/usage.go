package amazonphotos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Usage returns the account usage document as upstream sent it.
func (p *Provider) Usage(ctx context.Context) (json.RawMessage, error) {
	eps := p.Endpoints(ctx)
	target := eps.MetadataURL + "/account/usage"

	resp, err := p.do(ctx, "usage", http.MethodGet, target, nil, nil, p.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &StatusError{Op: "usage", URL: target, StatusCode: resp.status, Body: string(resp.body)}
	}
	if !json.Valid(resp.body) {
		return nil, &DecodeError{Op: "usage", Err: errors.New("response is not valid JSON")}
	}
	return json.RawMessage(resp.body), nil
}
