package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const proxyTimeout = 30 * time.Second

// Proxy forwards requests the bundler does not serve to the execution client.
type Proxy struct {
	url    string
	client *resty.Client
}

func NewProxy(url string) *Proxy {
	return &Proxy{
		url: url,
		client: resty.New().
			SetTimeout(proxyTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (p *Proxy) URL() string {
	return p.url
}

// Forward posts body verbatim and returns the upstream response body.
func (p *Proxy) Forward(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody([]byte(body)).
		Post(p.url)
	if err != nil {
		return nil, err
	}

	out := resp.Body()
	if !json.Valid(out) {
		return nil, fmt.Errorf("upstream returned %s", resp.Status())
	}
	return out, nil
}
