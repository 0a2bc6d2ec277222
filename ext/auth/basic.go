// Package auth provides proxy authentication interceptors.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/Windscribe/interceptor"
)

const unauthorizedMsg = "407 Proxy Authentication Required"

const proxyAuthorizationHeader = "Proxy-Authorization"

// BasicUnauthorized turns the response into a 407 challenge for realm.
func BasicUnauthorized(resp *interceptor.Response, realm string) {
	resp.Fill(http.StatusProxyAuthRequired, "text/plain; charset=utf-8", unauthorizedMsg)
	resp.Header.Set("Proxy-Authenticate", "Basic realm="+realm)
}

// userKey holds the authenticated user name in the cycle data. Set on a
// CONNECT cycle it is inherited by the exchanges of the tunnel.
const userKey = "auth.user"

// User returns the name the exchange or its tunnel authenticated as.
func User(c *interceptor.Cycle) string {
	user, _ := c.Data(userKey).(string)
	return user
}

func auth(req *interceptor.Request, f func(user, passwd string) bool) (string, bool) {
	authheader := strings.SplitN(req.Header.Get(proxyAuthorizationHeader), " ", 2)
	req.Header.Del(proxyAuthorizationHeader)
	if len(authheader) != 2 || authheader[0] != "Basic" {
		return "", false
	}
	userpassraw, err := base64.StdEncoding.DecodeString(authheader[1])
	if err != nil {
		return "", false
	}
	userpass := strings.SplitN(string(userpassraw), ":", 2)
	if len(userpass) != 2 {
		return "", false
	}
	return userpass[0], f(userpass[0], userpass[1])
}

func check(realm string, f func(user, passwd string) bool) interceptor.HandlerFunc {
	return func(c *interceptor.Cycle) error {
		if User(c) != "" {
			c.Request.Header.Del(proxyAuthorizationHeader)
			return nil
		}
		user, ok := auth(c.Request, f)
		if !ok {
			c.Debugf("proxy authentication failed for %s", c.Request.FullURL())
			BasicUnauthorized(c.Response, realm)
			return nil
		}
		c.SetData(userKey, user)
		return nil
	}
}

// Basic is a request phase interceptor that answers 407 unless the client
// sent credentials f accepts. The credentials are never forwarded. Exchanges
// inside a tunnel admitted by BasicConnect pass without credentials.
func Basic(realm string, f func(user, passwd string) bool) interceptor.Handler {
	return check(realm, f)
}

// BasicConnect refuses CONNECT requests without acceptable credentials with
// a 407. Register it with Server.OnConnect.
func BasicConnect(realm string, f func(user, passwd string) bool) interceptor.Handler {
	return check(realm, f)
}

// Register protects both plain requests and tunnels of srv.
func Register(srv *interceptor.Server, realm string, f func(user, passwd string) bool) error {
	if err := srv.OnConnect(BasicConnect(realm, f)); err != nil {
		return err
	}
	return srv.On(string(interceptor.PhaseRequest), Basic(realm, f))
}
