package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// RunMission connects, authenticates, issues two DUMPs and terminates. The
// first DUMP after HELLO is expected to fail; the secret is taken from the
// second, which must be answered with DUMP_OK.
//
// Errors wrap ErrConnectFailed, ErrProtocolRejected or ErrNoSecret so callers
// can tell the outcomes apart with errors.Is.
func (c *Client) RunMission(ctx context.Context) ([]byte, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Hello(ctx); err != nil {
		return nil, rejected("hello", err)
	}
	var secret []byte
	for i := 1; i <= 2; i++ {
		payload, ok, err := c.Dump(ctx)
		if err != nil {
			return nil, rejected("dump", err)
		}
		log.Info().Int("dump", i).Bool("ok", ok).Msg("dump answered")
		if i == 2 && ok {
			secret = payload
		}
	}
	if err := c.Terminate(ctx); err != nil {
		return nil, rejected("terminate", err)
	}
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return secret, nil
}

func rejected(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProtocolRejected, step, err)
}
