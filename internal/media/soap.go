package media

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoakerin/upnpcast/internal/codec"
	"github.com/yoakerin/upnpcast/internal/httpclient"
)

// postAction posts a single SOAP action, making up to cfg.MaxRetries attempts in total
// on transport errors (timeout, connection reset, 5xx) with linear backoff
// (cfg.BackoffStep × attempt) between them; a 4xx response is treated as terminal.
func (c *Controller) postAction(ctx context.Context, controlURL string, action codec.Action) ([]byte, error) {
	soapAction := codec.SOAPActionHeader(action.ServiceType, action.Name)
	body := codec.BuildEnvelope(action)

	ctx, cancel := c.linkRelease(ctx)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.http.Post(ctx, controlURL, soapAction, body)
		if err == nil {
			return codec.ParseEnvelope(resp)
		}
		lastErr = err

		var netErr *httpclient.NetworkError
		if errors.As(err, &netErr) && !netErr.Retryable() {
			return nil, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := time.Duration(attempt) * c.cfg.BackoffStep
		c.log.WithError(err).WithFields(logrus.Fields{
			"action":   action.Name,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Warn("soap action failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
