package infra

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

func NewNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("corider"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}
