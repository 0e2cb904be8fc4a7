package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watergb/internal/httpclient"
	"watergb/internal/logging"
)

// recorder is a Requester that records calls and never touches the network.
type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Do(_ context.Context, method, path string, _, _ any) error {
	r.calls = append(r.calls, method+" "+path)
	return r.err
}

// fakeBackend serves the REST endpoints from memory.
type fakeBackend struct {
	mu     sync.Mutex
	houses map[string]map[string]any
	bodies []map[string]any
	nextID int
}

func newFakeBackend(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{houses: map[string]map[string]any{}, nextID: 100}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	readBody := func(req *http.Request) map[string]any {
		var in map[string]any
		json.NewDecoder(req.Body).Decode(&in)
		fb.mu.Lock()
		fb.bodies = append(fb.bodies, in)
		fb.mu.Unlock()
		return in
	}

	api.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		in := readBody(req)
		if in["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "اسم المستخدم أو كلمة المرور غير صحيحة"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-1", "user": map[string]any{"id": 1, "username": in["username"]}})
	}).Methods(http.MethodPost)
	api.HandleFunc("/register", func(w http.ResponseWriter, req *http.Request) {
		readBody(req)
		writeJSON(w, http.StatusCreated, map[string]string{"message": "created"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/neighborhoods", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "name": "الحي الأول"}, {"id": "n-2", "name": "الحي الثاني"}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/neighborhoods", func(w http.ResponseWriter, req *http.Request) {
		in := readBody(req)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 3, "name": in["name"]})
	}).Methods(http.MethodPost)
	api.HandleFunc("/neighborhoods/{id}/squares", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 10, "name": "مربع 1", "neighborhoodId": id}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/squares", func(w http.ResponseWriter, req *http.Request) {
		in := readBody(req)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 11, "name": in["name"], "neighborhoodId": in["neighborhoodId"]})
	}).Methods(http.MethodPost)
	api.HandleFunc("/squares/{id}/houses", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		out := []map[string]any{}
		for _, h := range fb.houses {
			out = append(out, h)
		}
		writeJSON(w, http.StatusOK, out)
	}).Methods(http.MethodGet)
	api.HandleFunc("/houses", func(w http.ResponseWriter, req *http.Request) {
		in := readBody(req)
		fb.mu.Lock()
		fb.nextID++
		in["id"] = fb.nextID
		fb.houses[fmt.Sprint(fb.nextID)] = in
		fb.mu.Unlock()
		writeJSON(w, http.StatusCreated, in)
	}).Methods(http.MethodPost)
	api.HandleFunc("/houses/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		in := readBody(req)
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if _, ok := fb.houses[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "المنزل غير موجود"})
			return
		}
		fb.houses[id] = in
		writeJSON(w, http.StatusOK, in)
	}).Methods(http.MethodPut)
	api.HandleFunc("/houses/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		fb.mu.Lock()
		delete(fb.houses, id)
		fb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	hc, err := httpclient.New(httpclient.Options{BaseURL: srv.URL + "/api", Logger: logging.Discard()})
	require.NoError(t, err)
	return New(hc), fb
}

func (fb *fakeBackend) lastBody() map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.bodies) == 0 {
		return nil
	}
	return fb.bodies[len(fb.bodies)-1]
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var got []Neighborhood
	require.NoError(t, json.Unmarshal([]byte(`[{"id":12,"name":"a"},{"id":"abc","name":"b"},{"id":null,"name":"c"}]`), &got))
	assert.Equal(t, ID("12"), got[0].ID)
	assert.Equal(t, ID("abc"), got[1].ID)
	assert.Equal(t, ID(""), got[2].ID)

	data, err := json.Marshal(Square{ID: "7", Name: "s", NeighborhoodID: "n-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"name":"s","neighborhoodId":"n-1"}`, string(data))
}

func TestPaymentCatalogue(t *testing.T) {
	tests := []struct {
		id     string
		name   string
		amount float64
	}{
		{SmallMeter, "عداد صغير", 5000},
		{MediumMeter, "عداد متوسط", 10000},
		{LargeMeter, "عداد كبير", 15000},
		{"SOLAR", LabelUnknownPayment, 0},
		{"", LabelUnknownPayment, 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.name, PaymentTypeName(tc.id), tc.id)
		assert.Equal(t, tc.amount, PaymentAmount(tc.id), tc.id)
	}

	types := PaymentTypes()
	require.Len(t, types, 3)
	types[0].Name = "changed"
	assert.Equal(t, "عداد صغير", PaymentTypeName(SmallMeter))
}

func TestApplyDefaults(t *testing.T) {
	h := House{HouseNumber: " 12 ", OwnerName: "أحمد"}
	h.ApplyDefaults()
	assert.Equal(t, "12", h.HouseNumber)
	assert.Equal(t, SmallMeter, h.PaymentType)
	assert.Equal(t, float64(5000), h.RequiredAmount)

	h = House{HouseNumber: "1", OwnerName: "x", PaymentType: LargeMeter, RequiredAmount: 7500}
	h.ApplyDefaults()
	assert.Equal(t, float64(7500), h.RequiredAmount)
}

func TestValidateHouse(t *testing.T) {
	bad := "not a uri"
	good := "file:///data/receipts/12.jpg"

	tests := []struct {
		name  string
		house House
		field string
	}{
		{"missing number", House{OwnerName: "a"}, "houseNumber"},
		{"blank owner", House{HouseNumber: "1", OwnerName: "   "}, "ownerName"},
		{"unknown payment type", House{HouseNumber: "1", OwnerName: "a", PaymentType: "SOLAR"}, "paymentType"},
		{"negative amount", House{HouseNumber: "1", OwnerName: "a", RequiredAmount: -5}, "requiredAmount"},
		{"receipt not a uri", House{HouseNumber: "1", OwnerName: "a", ReceiptImage: &bad}, "receiptImage"},
		{"valid", House{HouseNumber: "1", OwnerName: "a", PaymentType: MediumMeter, ReceiptImage: &good}, ""},
		{"valid without receipt", House{HouseNumber: "1", OwnerName: "a"}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHouse(tc.house)
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			assert.NotEmpty(t, ve.Localized)
		})
	}
}

func TestValidationRejectsBeforeNetwork(t *testing.T) {
	r := &recorder{}
	c := New(r)
	ctx := context.Background()

	_, err := c.Auth.Login(ctx, Credentials{Username: "u"})
	assert.True(t, IsValidationError(err))
	_, err = c.Auth.Register(ctx, Credentials{Password: "p"})
	assert.True(t, IsValidationError(err))
	_, err = c.Neighborhoods.Create(ctx, " ")
	assert.True(t, IsValidationError(err))
	_, err = c.Neighborhoods.Squares(ctx, "")
	assert.True(t, IsValidationError(err))
	_, err = c.Squares.Create(ctx, "s", "")
	assert.True(t, IsValidationError(err))
	_, err = c.Squares.Houses(ctx, "")
	assert.True(t, IsValidationError(err))
	_, err = c.Houses.Create(ctx, House{OwnerName: "a"})
	assert.True(t, IsValidationError(err))
	_, err = c.Houses.Update(ctx, "", House{HouseNumber: "1", OwnerName: "a"})
	assert.True(t, IsValidationError(err))
	assert.True(t, IsValidationError(c.Houses.Delete(ctx, "")))

	assert.Empty(t, r.calls)
}

func TestPathsAreEscaped(t *testing.T) {
	r := &recorder{}
	c := New(r)
	ctx := context.Background()

	c.Neighborhoods.Squares(ctx, "a/b")
	c.Squares.Houses(ctx, "7")
	c.Houses.Delete(ctx, "9")

	assert.Equal(t, []string{
		"GET /neighborhoods/a%2Fb/squares",
		"GET /squares/7/houses",
		"DELETE /houses/9",
	}, r.calls)
}

func TestClientErrorsPassThroughUnchanged(t *testing.T) {
	sentinel := &httpclient.NetworkError{Method: "GET", URL: "x", Err: errors.New("boom")}
	c := New(&recorder{err: sentinel})

	_, err := c.Neighborhoods.List(context.Background())
	assert.Same(t, sentinel, err)
}

func TestLoginAndRegister(t *testing.T) {
	c, fb := newFakeBackend(t)
	ctx := context.Background()

	resp, err := c.Auth.Login(ctx, Credentials{Username: "ali", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, "ali", resp.User.Username)
	assert.Equal(t, ID("1"), resp.User.ID)
	assert.Equal(t, map[string]any{"username": "ali", "password": "secret"}, fb.lastBody())

	_, err = c.Auth.Login(ctx, Credentials{Username: "ali", Password: "wrong"})
	var se *httpclient.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "اسم المستخدم أو كلمة المرور غير صحيحة", UserMessage(err, ""))

	reg, err := c.Auth.Register(ctx, Credentials{Username: "new", Password: "pw"})
	require.NoError(t, err)
	assert.Empty(t, reg.Token)
}

func TestHierarchy(t *testing.T) {
	c, fb := newFakeBackend(t)
	ctx := context.Background()

	ns, err := c.Neighborhoods.List(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, ID("n-2"), ns[1].ID)

	sq, err := c.Neighborhoods.Squares(ctx, ns[0].ID)
	require.NoError(t, err)
	require.Len(t, sq, 1)
	assert.Equal(t, ID("1"), sq[0].NeighborhoodID)

	created, err := c.Neighborhoods.Create(ctx, "حي جديد")
	require.NoError(t, err)
	assert.Equal(t, "حي جديد", created.Name)

	square, err := c.Squares.Create(ctx, "مربع 2", "3")
	require.NoError(t, err)
	assert.Equal(t, ID("3"), square.NeighborhoodID)
	assert.Equal(t, float64(3), fb.lastBody()["neighborhoodId"])
}

func TestHouseLifecycle(t *testing.T) {
	c, fb := newFakeBackend(t)
	ctx := context.Background()

	h, err := c.Houses.Create(ctx, House{HouseNumber: "12", OwnerName: "أحمد", OwnerPhone: "0912345678", IsOccupied: true, SquareID: "10"})
	require.NoError(t, err)
	assert.Equal(t, ID("101"), h.ID)
	assert.Equal(t, SmallMeter, h.PaymentType)
	assert.Equal(t, float64(5000), h.RequiredAmount)
	assert.Nil(t, fb.lastBody()["receiptImage"])

	h.HasPaid = true
	updated, err := c.Houses.Update(ctx, h.ID, *h)
	require.NoError(t, err)
	assert.True(t, updated.HasPaid)

	withReceipt, err := c.Houses.SetReceipt(ctx, *updated, "file:///receipts/12.jpg")
	require.NoError(t, err)
	require.True(t, withReceipt.HasReceipt())
	assert.Equal(t, "file:///receipts/12.jpg", *withReceipt.ReceiptImage)

	cleared, err := c.Houses.SetReceipt(ctx, *withReceipt, "")
	require.NoError(t, err)
	assert.False(t, cleared.HasReceipt())
	body := fb.lastBody()
	v, present := body["receiptImage"]
	assert.True(t, present)
	assert.Nil(t, v)

	houses, err := c.Squares.Houses(ctx, "10")
	require.NoError(t, err)
	require.Len(t, houses, 1)
	assert.Error(t, CheckUniqueNumber(House{HouseNumber: "12"}, houses))
	assert.NoError(t, CheckUniqueNumber(*cleared, houses))

	require.NoError(t, c.Houses.Delete(ctx, h.ID))
	houses, err = c.Squares.Houses(ctx, "10")
	require.NoError(t, err)
	assert.Empty(t, houses)

	_, err = c.Houses.Update(ctx, "999", House{HouseNumber: "1", OwnerName: "a"})
	assert.Equal(t, "المنزل غير موجود", UserMessage(err, MsgSaveHouse))
}

func TestFilterHouses(t *testing.T) {
	houses := []House{
		{ID: "1", HouseNumber: "A12", OwnerName: "Ahmed Ali", OwnerPhone: "0912000111", HasPaid: true},
		{ID: "2", HouseNumber: "B7", OwnerName: "محمد", OwnerPhone: "0999888777"},
		{ID: "3", HouseNumber: "C3", OwnerName: "Sara", OwnerPhone: "0123", HasPaid: true},
	}

	ids := func(hs []House) []ID {
		var out []ID
		for _, h := range hs {
			out = append(out, h.ID)
		}
		return out
	}

	tests := []struct {
		query string
		want  []ID
	}{
		{"", []ID{"1", "2", "3"}},
		{"a12", []ID{"1"}},
		{"AHMED", []ID{"1"}},
		{"محمد", []ID{"2"}},
		{"0999", []ID{"2"}},
		{LabelUnpaid, []ID{"2"}},
		{LabelPaid, []ID{"1", "2", "3"}},
		{"zzz", nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ids(FilterHouses(houses, tc.query)), "query %q", tc.query)
	}

	assert.Equal(t, HouseSummary{Total: 3, Paid: 2, Unpaid: 1}, Summarize(houses))

	h, ok := FindHouse(houses, "3")
	assert.True(t, ok)
	assert.Equal(t, "Sara", h.OwnerName)
}

func TestHouseDisplayHelpers(t *testing.T) {
	h := House{PaymentType: MediumMeter}
	assert.Equal(t, float64(10000), h.Amount())
	assert.Equal(t, LabelUnpaid, h.PaidLabel())
	h.RequiredAmount = 123
	assert.Equal(t, float64(123), h.Amount())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback string
		want     string
	}{
		{"nil", nil, "", ""},
		{"validation", invalid("houseNumber", "required", MsgHouseRequired), "", MsgHouseRequired},
		{"server message", &httpclient.ServerError{StatusCode: 400, Message: "رسالة الخادم"}, MsgSaveHouse, "رسالة الخادم"},
		{"server no message", &httpclient.ServerError{StatusCode: 500}, MsgSaveHouse, MsgSaveHouse},
		{"auth no message", &httpclient.ServerError{StatusCode: 401}, MsgSaveHouse, MsgSessionExpired},
		{"network", &httpclient.NetworkError{Err: errors.New("refused")}, MsgLoadHouses, MsgNetwork},
		{"timeout", &httpclient.NetworkError{Err: context.DeadlineExceeded}, MsgLoadHouses, MsgTimeout},
		{"wrapped", fmt.Errorf("load: %w", &httpclient.ServerError{StatusCode: 422, Message: "x"}), "", "x"},
		{"other", errors.New("boom"), "", MsgUnexpected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, UserMessage(tc.err, tc.fallback))
		})
	}
}
