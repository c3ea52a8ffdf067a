package offlinecache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	rc := routeConfig(Config{
		Bundle:       []string{"/static/app.js"},
		BundlePrefix: "/assets/",
	})

	tests := []struct {
		name     string
		method   string
		target   string
		headers  map[string]string
		category Category
		strategy Strategy
	}{
		{"api prefix", "GET", "/api/users", nil, CategoryAPI, StrategyNetworkFirst},
		{"endpoint", "GET", "/tasks", nil, CategoryAPI, StrategyNetworkFirst},
		{"below endpoint", "DELETE", "/tasks/42", nil, CategoryAPI, StrategyNetworkFirst},
		{"endpoint lookalike", "GET", "/tasksmith", nil, CategoryOther, StrategyDefault},
		{"api wins over destination", "GET", "/api/avatar.png", map[string]string{"Sec-Fetch-Dest": "image"}, CategoryAPI, StrategyNetworkFirst},
		{"image", "GET", "/img/logo", map[string]string{"Sec-Fetch-Dest": "image"}, CategoryStatic, StrategyCacheFirst},
		{"script", "GET", "/js/vendor.js", map[string]string{"Sec-Fetch-Dest": "script"}, CategoryStatic, StrategyCacheFirst},
		{"bundle script", "GET", "/static/app.js", map[string]string{"Sec-Fetch-Dest": "script"}, CategoryStatic, StrategyStaleWhileRevalidate},
		{"bundle prefix style", "GET", "/assets/main.css", map[string]string{"Sec-Fetch-Dest": "style"}, CategoryStatic, StrategyStaleWhileRevalidate},
		{"bundle prefix image", "GET", "/assets/bg.png", map[string]string{"Sec-Fetch-Dest": "image"}, CategoryStatic, StrategyCacheFirst},
		{"extension png", "GET", "/img/logo.png", nil, CategoryStatic, StrategyCacheFirst},
		{"extension css", "GET", "/css/site.css", nil, CategoryStatic, StrategyCacheFirst},
		{"extension js", "GET", "/static/app.js", nil, CategoryStatic, StrategyStaleWhileRevalidate},
		{"header wins over extension", "GET", "/img/logo.png", map[string]string{"Sec-Fetch-Dest": "empty"}, CategoryOther, StrategyDefault},
		{"navigation", "GET", "/about", map[string]string{"Sec-Fetch-Mode": "navigate"}, CategoryNavigation, StrategyNavigation},
		{"navigation by accept", "GET", "/about", map[string]string{"Accept": "text/html,application/xhtml+xml"}, CategoryNavigation, StrategyNavigation},
		{"cors fetch with html accept", "GET", "/about", map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}, CategoryOther, StrategyDefault},
		{"other", "GET", "/data.json", map[string]string{"Accept": "application/json"}, CategoryOther, StrategyDefault},
		{"font", "GET", "/fonts/a.woff2", map[string]string{"Sec-Fetch-Dest": "font"}, CategoryOther, StrategyDefault},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := httptest.NewRequest(test.method, test.target, nil)
			for k, v := range test.headers {
				r.Header.Set(k, v)
			}
			category := Classify(r, rc)
			assert.Equal(t, test.category, category)
			assert.Equal(t, test.strategy, SelectStrategy(category, r, rc))
		})
	}
}

func TestRouteConfigDefaults(t *testing.T) {
	rc := routeConfig(Config{})
	assert.Equal(t, "/api/", rc.APIPrefix)
	assert.Equal(t, []string{"/tasks"}, rc.Endpoints)

	rc = routeConfig(Config{APIPrefix: "/v2/", Endpoints: []string{"/projects/"}})
	r := httptest.NewRequest(http.MethodGet, "/projects/3", nil)
	assert.Equal(t, CategoryAPI, Classify(r, rc))
	r = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	assert.Equal(t, CategoryOther, Classify(r, rc))
}
