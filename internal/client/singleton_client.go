// internal/client/singleton_client.go
package client

import (
	"net/http"
	"sync"
	"time"
)

var (
	instance *http.Client
	once     sync.Once
)

// GetClient 返回 http.Client 的单例
// 轮询请求都很小，超时设短一些，服务端卡住时界面能及时显示错误
func GetClient() *http.Client {
	once.Do(func() {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 4
		instance = &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		}
	})
	return instance
}
