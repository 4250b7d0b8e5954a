package httpjson

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

const document = `{
  "sensors": [{"name": "outside", "temp": 4.5}, {"name": "inside", "temp": 21}],
  "state": {"heating/on": true, "mode": "eco"},
  "missing": null
}`

func TestPointer(t *testing.T) {
	var doc interface{}
	require.NoError(t, json.Unmarshal([]byte(document), &doc))
	cases := map[string]interface{}{
		"/sensors/1/temp":    21.0,
		"/sensors/0/name":    "outside",
		"/state/heating~1on": true,
	}
	for s, want := range cases {
		p, err := ParsePointer(s)
		require.NoError(t, err, s)
		v, ok := p.Get(doc)
		assert.True(t, ok, s)
		assert.Equal(t, want, v, s)
	}
	for _, s := range []string{"/sensors/2/temp", "/sensors/x", "/state/mode/deeper", "/nope"} {
		p, _ := ParsePointer(s)
		_, ok := p.Get(doc)
		assert.False(t, ok, s)
	}
	root, _ := ParsePointer("")
	v, ok := root.Get(doc)
	assert.True(t, ok)
	assert.Equal(t, doc, v)

	_, err := ParsePointer("sensors")
	assert.True(t, errors.IsBinding(err))
}

func TestPollAndWrite(t *testing.T) {
	var posted writeBody
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(document))
		case http.MethodPost:
			json.NewDecoder(r.Body).Decode(&posted)
		}
	}))
	defer srv.Close()

	a := &Adapter{}
	require.NoError(t, a.Configure(config.Params{"url": srv.URL + "/state", "write_url": srv.URL + "/set", "token": "s3cret"}))
	reg := items.NewRegistry()
	for path, addr := range map[string]string{"outside": "/sensors/0/temp", "heating": "/state/heating~1on", "gone": "/missing"} {
		item, _ := reg.Add(path, items.TypeNum, nil)
		require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: addr, Direction: binder.ReadWrite}))
	}

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []adapters.Reading{
		{Address: "/sensors/0/temp", Value: 4.5},
		{Address: "/state/heating~1on", Value: true},
	}, readings)

	require.NoError(t, a.Write(context.Background(), "/state/heating~1on", false))
	assert.Equal(t, writeBody{Address: "/state/heating~1on", Value: false}, posted)

	status = http.StatusServiceUnavailable
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err))
	status = http.StatusForbidden
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsPermanent(err))
}

func TestBindWithoutWriteURL(t *testing.T) {
	a := &Adapter{}
	assert.True(t, errors.IsConfig(a.Configure(config.Params{})))
	require.NoError(t, a.Configure(config.Params{"url": "http://localhost/"}))
	reg := items.NewRegistry()
	item, _ := reg.Add("x", items.TypeNum, nil)
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "/x", Direction: binder.Write})))
	assert.NoError(t, a.Bind(&binder.Binding{Item: item, Address: "/x", Direction: binder.Read}))
}
