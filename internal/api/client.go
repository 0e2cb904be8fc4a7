// Package api is the typed facade over the backend REST API.
//
// Every call validates its parameters, then delegates to the instrumented
// HTTP client. Failures from the client are returned unchanged and nothing
// is retried.
package api

import (
	"context"
	"net/http"
	"net/url"
)

// Requester sends one JSON request. *httpclient.Client implements it.
type Requester interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Client groups the backend services.
type Client struct {
	Auth          *AuthService
	Neighborhoods *NeighborhoodService
	Squares       *SquareService
	Houses        *HouseService
}

// New creates a Client on top of r.
func New(r Requester) *Client {
	return &Client{
		Auth:          &AuthService{r: r},
		Neighborhoods: &NeighborhoodService{r: r},
		Squares:       &SquareService{r: r},
		Houses:        &HouseService{r: r},
	}
}

func idPath(prefix string, id ID, suffix string) string {
	return prefix + "/" + url.PathEscape(string(id)) + suffix
}

// AuthService covers /login and /register.
type AuthService struct{ r Requester }

// Login exchanges credentials for a bearer token.
func (s *AuthService) Login(ctx context.Context, c Credentials) (*AuthResponse, error) {
	if err := ValidateCredentials(c); err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := s.r.Do(ctx, http.MethodPost, "/login", c, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. It does not log in.
func (s *AuthService) Register(ctx context.Context, c Credentials) (*AuthResponse, error) {
	if err := ValidateCredentials(c); err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := s.r.Do(ctx, http.MethodPost, "/register", c, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NeighborhoodService covers /neighborhoods.
type NeighborhoodService struct{ r Requester }

// List returns all neighborhoods.
func (s *NeighborhoodService) List(ctx context.Context) ([]Neighborhood, error) {
	var out []Neighborhood
	if err := s.r.Do(ctx, http.MethodGet, "/neighborhoods", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Squares lists the squares of a neighborhood.
func (s *NeighborhoodService) Squares(ctx context.Context, id ID) ([]Square, error) {
	if err := requireID("neighborhoodId", id); err != nil {
		return nil, err
	}
	var out []Square
	if err := s.r.Do(ctx, http.MethodGet, idPath("/neighborhoods", id, "/squares"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds a neighborhood.
func (s *NeighborhoodService) Create(ctx context.Context, name string) (*Neighborhood, error) {
	if err := requireName("name", name); err != nil {
		return nil, err
	}
	var out Neighborhood
	in := map[string]string{"name": name}
	if err := s.r.Do(ctx, http.MethodPost, "/neighborhoods", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SquareService covers /squares.
type SquareService struct{ r Requester }

// Houses lists the houses of a square.
func (s *SquareService) Houses(ctx context.Context, id ID) ([]House, error) {
	if err := requireID("squareId", id); err != nil {
		return nil, err
	}
	var out []House
	if err := s.r.Do(ctx, http.MethodGet, idPath("/squares", id, "/houses"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create adds a square to a neighborhood.
func (s *SquareService) Create(ctx context.Context, name string, neighborhoodID ID) (*Square, error) {
	if err := requireName("name", name); err != nil {
		return nil, err
	}
	if err := requireID("neighborhoodId", neighborhoodID); err != nil {
		return nil, err
	}
	in := struct {
		Name           string `json:"name"`
		NeighborhoodID ID     `json:"neighborhoodId"`
	}{name, neighborhoodID}

	var out Square
	if err := s.r.Do(ctx, http.MethodPost, "/squares", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HouseService covers /houses.
type HouseService struct{ r Requester }

// Create adds a house. Defaults are applied before validation.
func (s *HouseService) Create(ctx context.Context, h House) (*House, error) {
	h.ApplyDefaults()
	if err := ValidateHouse(h); err != nil {
		return nil, err
	}
	var out House
	if err := s.r.Do(ctx, http.MethodPost, "/houses", h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces a house record.
func (s *HouseService) Update(ctx context.Context, id ID, h House) (*House, error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	h.ApplyDefaults()
	if err := ValidateHouse(h); err != nil {
		return nil, err
	}
	var out House
	if err := s.r.Do(ctx, http.MethodPut, idPath("/houses", id, ""), h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetReceipt attaches (uri non-empty) or removes (uri empty) the receipt
// image of h.
func (s *HouseService) SetReceipt(ctx context.Context, h House, uri string) (*House, error) {
	if uri == "" {
		h.ReceiptImage = nil
	} else {
		h.ReceiptImage = &uri
	}
	return s.Update(ctx, h.ID, h)
}

// Delete removes a house.
func (s *HouseService) Delete(ctx context.Context, id ID) error {
	if err := requireID("id", id); err != nil {
		return err
	}
	return s.r.Do(ctx, http.MethodDelete, idPath("/houses", id, ""), nil, nil)
}
