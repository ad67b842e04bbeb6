package tlsutil

import (
	"crypto/tls"
	"net/http"
	"slices"
	"time"
)

// DefaultHTTPTimeout LLM 请求未配置超时时使用
const DefaultHTTPTimeout = 60 * time.Second

// TLS 1.2 只放行前向保密的 AEAD 套件；TLS 1.3 的套件不可配置，本身都是 AEAD
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig 每次返回新的 *tls.Config，调用方可以随意修改
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12, CipherSuites: slices.Clone(aeadSuites)}
}

// SecureTransport 在 http.DefaultTransport 的基础上收紧 TLS，代理、拨号和空闲连接参数保持默认
func SecureTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = DefaultTLSConfig()
	tr.TLSHandshakeTimeout = 10 * time.Second
	return tr
}

// SecureHTTPClient timeout<=0 时取 DefaultHTTPTimeout
func SecureHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: SecureTransport()}
}
