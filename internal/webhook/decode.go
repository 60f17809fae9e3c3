// Package webhook turns inbound webhook calls into update requests and
// renders pipeline results as status payloads.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Lllllllleong/sheetupdater/internal/models"
)

const maxBodyBytes = 1 << 20

// ErrNoData is returned when a payload carries no fields at all.
var ErrNoData = errors.New("no data provided")

// DecodeRequest reads the request body and normalises it into a flat field
// map. Form bodies win; otherwise a raw body that looks like a query string
// is parsed as one, and anything else is treated as JSON.
func DecodeRequest(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if values, ok, err := decodeForm(r, raw); ok || err != nil {
		return nonEmpty(values, err)
	}
	return DecodeBody(raw)
}

// DecodeBody normalises a raw payload that arrived without form semantics,
// such as a Pub/Sub message body.
func DecodeBody(raw []byte) (map[string]string, error) {
	text := string(raw)
	if strings.Contains(text, "=") && strings.Contains(text, "&") {
		q, err := url.ParseQuery(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse url-encoded body: %w", err)
		}
		return nonEmpty(firstValues(q), nil)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoData
	}
	return nonEmpty(DecodeJSON(raw))
}

// DecodeJSON parses a JSON object into a flat field map. Strings are kept
// as-is, other scalars use their JSON text, and nulls are dropped.
func DecodeJSON(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to parse JSON body: %w", err)
	}

	values := make(map[string]string, len(obj))
	for k, v := range obj {
		switch v := v.(type) {
		case nil:
		case string:
			values[k] = v
		case json.Number:
			values[k] = v.String()
		case bool:
			values[k] = fmt.Sprint(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
			}
			values[k] = string(b)
		}
	}
	return values, nil
}

// decodeForm parses form-encoded and multipart bodies. ok is false when the
// request does not declare a form content type or the form is empty.
func decodeForm(r *http.Request, raw []byte) (map[string]string, bool, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, false, nil
	}

	var form url.Values
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if form, err = url.ParseQuery(string(raw)); err != nil {
			return nil, false, fmt.Errorf("failed to parse form body: %w", err)
		}
	case "multipart/form-data":
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, false, fmt.Errorf("failed to parse multipart body: %w", err)
		}
		form = url.Values(r.MultipartForm.Value)
	default:
		return nil, false, nil
	}

	if len(form) == 0 {
		return nil, false, nil
	}
	return firstValues(form), true, nil
}

func firstValues(q url.Values) map[string]string {
	values := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return values
}

func nonEmpty(values map[string]string, err error) (map[string]string, error) {
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	return values, nil
}

// ExtractRequest builds an UpdateRequest from a decoded payload, taking the
// identifier from the first idFields key with a non-empty value.
func ExtractRequest(values map[string]string, idFields []string) models.UpdateRequest {
	req := models.UpdateRequest{Fields: values}
	for _, key := range idFields {
		if id := values[key]; strings.TrimSpace(id) != "" {
			req.DocumentID = id
			break
		}
	}
	return req
}
