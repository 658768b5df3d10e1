package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hendrywilliam/herald/src/rest"
)

// RESTClient is the subset of rest.Executor the API helpers need.
type RESTClient interface {
	URL() string
	Get(ctx context.Context, url string, body []byte, options *rest.RESTOptions) (*rest.Response, error)
	Put(ctx context.Context, url string, body []byte, options *rest.RESTOptions) (*rest.Response, error)
	Patch(ctx context.Context, url string, body []byte, options *rest.RESTOptions) (*rest.Response, error)
	Delete(ctx context.Context, url string, body []byte, options *rest.RESTOptions) (*rest.Response, error)
	Post(ctx context.Context, url string, body []byte, options *rest.RESTOptions) (*rest.Response, error)
}

// route joins path onto the base URL of the client.
func route(client RESTClient, path string) (string, error) {
	u, err := url.Parse(client.URL())
	if err != nil {
		return "", err
	}
	actualPath, err := url.JoinPath(u.Path, path)
	if err != nil {
		return "", err
	}
	routeURL := url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   actualPath,
	}
	return routeURL.String(), nil
}

func checkStatus(res *rest.Response) error {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(res.Body))
	}
	return nil
}
