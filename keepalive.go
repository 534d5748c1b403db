package ftp

import "time"

// startKeepAlive starts the goroutine that sends NOOP on an idle
// connection. It is a no-op when the interval is zero.
func (c *Client) startKeepAlive() {
	if c.keepAlive <= 0 {
		return
	}
	c.quit = make(chan struct{})
	go c.keepAliveLoop(c.keepAlive, c.quit)
}

func (c *Client) keepAliveLoop(interval time.Duration, quit <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.keepAliveTick(interval) {
				return
			}
		case <-quit:
			return
		}
	}
}

// keepAliveTick sends NOOP unless a command went out during the last
// interval. It reports whether the loop should continue.
func (c *Client) keepAliveTick(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.usable() != nil {
		return false
	}
	if time.Since(c.lastCommand) < interval {
		return true
	}
	c.log.Debug("sending keep-alive NOOP")
	c.metrics.keepalive()
	if _, err := c.exchange("NOOP"); err != nil {
		c.log.WithError(err).Debug("keep-alive NOOP failed")
	}
	return true
}

func (c *Client) stopKeepAlive() {
	c.stopOnce.Do(func() {
		if c.quit != nil {
			close(c.quit)
		}
	})
}
