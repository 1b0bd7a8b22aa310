package gateway

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"mytracker/internal"
	"mytracker/internal/config"
	"mytracker/utility"
)

// Client keeps a line-oriented TCP connection to the MySensors gateway,
// reconnecting with a fixed backoff when the link drops.
type Client struct {
	conf           *config.Config
	logger         internal.LogHandler
	messageHandler func(line string)
	conn           net.Conn
	mux            sync.Mutex
	done           chan struct{}
}

func NewClient(conf *config.Config, logger internal.LogHandler) *Client {
	return &Client{
		conf:   conf,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (c *Client) SetMessageHandler(handler func(line string)) {
	c.messageHandler = handler
}

// Start dials the gateway and reads frames until Stop is called. Blocks, run
// it in its own goroutine.
func (c *Client) Start() error {
	if c.conf == nil {
		return utility.Err("configuration not loaded")
	}
	address := net.JoinHostPort(c.conf.Gateway.Host, c.conf.Gateway.Port)
	backoff := time.Duration(c.conf.Gateway.ReconnectSec) * time.Second
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		c.logger.Debug(fmt.Sprintf("connecting to gateway at %s", address))
		conn, err := net.DialTimeout("tcp", address, 10*time.Second)
		if err != nil {
			c.logger.Error("gateway connection failed", err)
			time.Sleep(backoff)
			continue
		}
		c.setConn(conn)
		c.logger.Debug("connected to gateway")

		c.readLines(conn)

		c.setConn(nil)
		if err = conn.Close(); err != nil {
			c.logger.Warn(fmt.Sprintf("error while closing gateway connection %s", err))
		}
		time.Sleep(backoff)
	}
}

func (c *Client) readLines(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		c.logger.RawDataEvent("IN", line)
		if c.messageHandler != nil {
			c.messageHandler(line)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn(fmt.Sprintf("gateway read failed: %s", err))
	} else {
		c.logger.Debug("gateway closed the connection")
	}
}

// Send writes one frame to the gateway, appending the line terminator.
func (c *Client) Send(line string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn == nil {
		return utility.Err("gateway not connected")
	}
	c.logger.RawDataEvent("OUT", line)
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	return err
}

func (c *Client) Stop() {
	close(c.done)
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.conn = conn
}
