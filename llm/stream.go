package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/signalmesh/signalmesh/model"
)

// streamBufferSize is the max size of a single SSE line.
const streamBufferSize = 1024 * 1024 // 1MB

// ChatStream opens a streaming completion. Provider fallback happens only
// before the first byte; once a stream is open, a mid-stream failure
// surfaces on the channel as a done chunk after an error log rather than
// switching providers with partial output already delivered.
//
// The returned channel is closed after the done chunk. Cancel ctx to
// abandon the stream.
func (g *Gateway) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	if len(messages) == 0 {
		return nil, &Error{Class: ErrClassInvalidRequest, Err: fmt.Errorf("at least one message is required")}
	}
	opts = opts.withDefaults()

	var lastErr *Error
	for _, name := range g.registry.AvailableOrder() {
		cfg := g.registry.Get(name)
		if cfg == nil {
			continue
		}
		provider := GetProvider(cfg.Provider)
		if provider == nil {
			continue
		}

		resp, gerr := g.openStream(ctx, name, cfg, provider, messages, opts)
		if gerr != nil {
			lastErr = gerr
			g.registry.MarkFailure(name)
			continue
		}
		g.registry.MarkSuccess(name)

		ch := make(chan StreamChunk, 16)
		go g.readStream(name, provider, resp, messages, ch)
		return ch, nil
	}

	if lastErr == nil {
		return nil, &Error{Class: ErrClassProvider, Err: fmt.Errorf("no providers configured")}
	}
	return nil, lastErr
}

func (g *Gateway) openStream(ctx context.Context, name string, cfg *model.ProviderConfig, provider Provider, messages []Message, opts Options) (*http.Response, *Error) {
	body, err := provider.BuildRequestBody(cfg, messages, opts, true)
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidRequest, Provider: name, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BuildURL(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidRequest, Provider: name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	provider.SetHeaders(httpReq, cfg)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		buf := make([]byte, 4096)
		n, _ := httpResp.Body.Read(buf)
		return nil, classifyHTTPError(name, httpResp.StatusCode, buf[:n])
	}
	return httpResp, nil
}

// readStream pumps SSE lines into chunks. Exactly one done chunk is sent,
// carrying final usage (estimated when the provider reported none).
func (g *Gateway) readStream(name string, provider Provider, resp *http.Response, messages []Message, ch chan<- StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	var content bytes.Buffer
	var finalUsage *TokenUsage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamBufferSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk, err := provider.ParseStreamLine(line)
		if err != nil {
			g.logger.Warn("Stream parse error; ending stream", "provider", name, "error", err)
			break
		}
		if chunk == nil {
			continue
		}
		if chunk.Done {
			if chunk.Usage != nil {
				finalUsage = chunk.Usage
			}
			break
		}
		content.WriteString(chunk.Delta)
		ch <- StreamChunk{Delta: chunk.Delta}
	}
	if err := scanner.Err(); err != nil {
		g.logger.Warn("Stream read error", "provider", name, "error", err)
	}

	if finalUsage == nil {
		usage := estimateUsage(messages, content.String())
		finalUsage = &usage
	}
	tokensTotal.WithLabelValues(name).Add(float64(finalUsage.TotalTokens))
	ch <- StreamChunk{Done: true, Usage: finalUsage}
}
