package sdk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kasuganosora/pantry/docstore"
)

// Docs is the document store of the signed-in user's server. It implements
// docstore.Store, so code written against a local backend runs unchanged
// against a remote one.
type Docs struct {
	c *Client
}

var _ docstore.Store = (*Docs)(nil)

func docPath(collection, id string) string {
	return "/v1/docs/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func (d *Docs) token() (string, error) {
	t := d.c.auth.currentToken()
	if t == "" {
		return "", ErrUnauthenticated
	}
	return t, nil
}

func (d *Docs) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	token, err := d.token()
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err := d.c.do(ctx, http.MethodGet, docPath(collection, id), token, nil, &doc); err != nil {
		return nil, err
	}
	if doc.Fields == nil {
		doc.Fields = docstore.Fields{}
	}
	return &doc, nil
}

func (d *Docs) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateKey(collection); err != nil {
		return nil, err
	}
	token, err := d.token()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Documents []docstore.Document `json:"documents"`
	}
	if err := d.c.do(ctx, http.MethodGet, "/v1/docs/"+url.PathEscape(collection), token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (d *Docs) Set(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	token, err := d.token()
	if err != nil {
		return err
	}
	path := docPath(collection, id)
	if merge {
		path += "?merge=true"
	}
	return d.c.do(ctx, http.MethodPut, path, token, map[string]interface{}{"fields": fields}, nil)
}

func (d *Docs) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	token, err := d.token()
	if err != nil {
		return err
	}
	return d.c.do(ctx, http.MethodPatch, docPath(collection, id), token, map[string]interface{}{"fields": fields}, nil)
}

func (d *Docs) Delete(ctx context.Context, collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	token, err := d.token()
	if err != nil {
		return err
	}
	return d.c.do(ctx, http.MethodDelete, docPath(collection, id), token, nil, nil)
}

func (d *Docs) Increment(ctx context.Context, collection, id string, inc docstore.Increment) (docstore.IncrementResult, error) {
	if err := validate(collection, id); err != nil {
		return docstore.IncrementResult{}, err
	}
	if err := inc.Validate(); err != nil {
		return docstore.IncrementResult{}, err
	}
	token, err := d.token()
	if err != nil {
		return docstore.IncrementResult{}, err
	}
	var res docstore.IncrementResult
	err = d.c.do(ctx, http.MethodPost, docPath(collection, id)+"/increment", token, inc, &res)
	return res, err
}

func validate(collection, id string) error {
	if err := docstore.ValidateKey(collection); err != nil {
		return err
	}
	return docstore.ValidateKey(id)
}
