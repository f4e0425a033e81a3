package email

import (
	"fmt"
	"net"
	"strconv"

	"github.com/nhle/mailsetup/internal/model"
)

// Well-known IMAP ports.
const (
	PortIMAPS = 993
	PortIMAP  = 143
)

// Endpoint is a candidate IMAP server address.
type Endpoint struct {
	Host string
	Port int
	// TLS selects implicit TLS; otherwise STARTTLS is required.
	TLS bool
}

// EndpointFor returns the endpoint described by cfg.
func EndpointFor(cfg model.ServerConfig) Endpoint {
	return Endpoint{Host: cfg.Host, Port: cfg.Port, TLS: cfg.UseSSL}
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the imap:// or imaps:// form of the endpoint.
func (e Endpoint) URL() string {
	scheme := "imap"
	if e.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s", scheme, e.Addr())
}

func (e Endpoint) String() string {
	return e.URL()
}

// ServerConfig converts the endpoint into settings found by method.
func (e Endpoint) ServerConfig(method string) model.ServerConfig {
	return model.ServerConfig{
		Host:            e.Host,
		Port:            e.Port,
		UseSSL:          e.TLS,
		ProtocolURL:     e.URL(),
		DiscoveryMethod: method,
	}
}

// Valid reports whether the endpoint has a host and a usable port.
func (e Endpoint) Valid() bool {
	return e.Host != "" && e.Port > 0 && e.Port <= 65535
}
