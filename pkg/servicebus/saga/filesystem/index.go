package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	"github.com/google/uuid"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	dataDir  = "data"
	indexDir = "index"
)

type document struct {
	ID           string                 `json:"id"`
	Revision     int                    `json:"revision"`
	Type         string                 `json:"type"`
	State        map[string]interface{} `json:"state"`
	Correlations []correlation          `json:"correlations"`
}

type correlation struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

/*
Index maps saga identifiers and (type, property, value) tuples to serialized saga blobs on disk:

	data/<id>.json                             the saga blob
	index/<type>/<property>/<sha256 of value>  the id of the saga registered under the tuple

Index has no concurrency control of its own; callers must serialize writers.
*/
type Index struct {
	basePath string
}

func NewIndex(basePath string) (*Index, error) {
	for _, dir := range []string{filepath.Join(basePath, dataDir), filepath.Join(basePath, indexDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Index{basePath: basePath}, nil
}

// Find the saga with the given id. Returns nil if it does not exist.
func (index *Index) Find(id uuid.UUID) (*saga.Instance, error) {
	doc, err := index.load(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.instance()
}

// FindByCorrelation resolves the tuple to a saga. Returns nil if no saga currently carries it.
func (index *Index) FindByCorrelation(sagaType string, propertyName string, propertyValue interface{}) (*saga.Instance, error) {
	value := saga.FormatValue(propertyValue)
	raw, err := os.ReadFile(index.entryPath(sagaType, propertyName, value))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("corrupt index entry for %s %s=%s: %w", sagaType, propertyName, value, err)
	}
	doc, err := index.load(id)
	if err != nil || doc == nil {
		return nil, err
	}
	if doc.Type != sagaType || !doc.has(propertyName, value) {
		return nil, nil
	}
	return doc.instance()
}

func (index *Index) Contains(id uuid.UUID) (bool, error) {
	_, err := os.Stat(index.dataPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

/*
Insert registers all correlations and then writes the saga blob. An existing blob with the same id
is replaced and its correlations that are no longer registered are dropped from the index.

Writing the blob commits the insert: if anything fails before, the entries written so far are
restored and the previous blob stays untouched. Entries without a blob carrying the tuple resolve
to no saga.
*/
func (index *Index) Insert(instance *saga.Instance, correlations []saga.CorrelationProperty) error {
	previous, err := index.load(instance.ID)
	if err != nil {
		return err
	}

	doc := &document{
		ID:       instance.ID.String(),
		Revision: instance.Revision,
		Type:     instance.Type,
		State:    instance.State,
	}
	for _, c := range correlations {
		value := saga.FormatValue(c.Value)
		if doc.has(c.Name, value) {
			continue
		}
		doc.Correlations = append(doc.Correlations, correlation{Name: c.Name, Value: value})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	var claimed []claim
	for _, c := range doc.Correlations {
		cl, err := index.claimEntry(index.entryPath(doc.Type, c.Name, c.Value), doc.ID)
		if err != nil {
			rollback(claimed)
			return err
		}
		if cl != nil {
			claimed = append(claimed, *cl)
		}
	}

	if err = writeAtomic(index.dataPath(instance.ID), raw); err != nil {
		rollback(claimed)
		return err
	}

	if previous != nil {
		for _, c := range previous.Correlations {
			if previous.Type == doc.Type && doc.has(c.Name, c.Value) {
				continue
			}
			if err = index.removeEntry(previous.Type, c, instance.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// claim remembers what an index entry held before it was pointed at a new saga.
type claim struct {
	path     string
	previous []byte
	existed  bool
}

// claimEntry points the entry at id. Returns nil if it already did.
func (index *Index) claimEntry(path string, id string) (*claim, error) {
	cl := &claim{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if strings.TrimSpace(string(raw)) == id {
			return nil, nil
		}
		cl.previous = raw
		cl.existed = true
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err = writeAtomic(path, []byte(id)); err != nil {
		return nil, err
	}
	return cl, nil
}

// rollback is best effort; an entry left behind without a matching blob is ignored on lookup.
func rollback(claimed []claim) {
	for i := len(claimed) - 1; i >= 0; i-- {
		cl := claimed[i]
		if cl.existed {
			_ = writeAtomic(cl.path, cl.previous)
			continue
		}
		_ = os.Remove(cl.path)
	}
}

// Remove the saga blob and every index entry still pointing at it.
func (index *Index) Remove(id uuid.UUID) error {
	doc, err := index.load(id)
	if err != nil || doc == nil {
		return err
	}
	for _, c := range doc.Correlations {
		if err = index.removeEntry(doc.Type, c, id); err != nil {
			return err
		}
	}
	err = os.Remove(index.dataPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (index *Index) removeEntry(sagaType string, c correlation, id uuid.UUID) error {
	path := index.entryPath(sagaType, c.Name, c.Value)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	//The tuple has been claimed by another saga in the meantime.
	if strings.TrimSpace(string(raw)) != id.String() {
		return nil
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (index *Index) load(id uuid.UUID) (*document, error) {
	raw, err := os.ReadFile(index.dataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := new(document)
	if err = json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("corrupt saga data %s: %w", id, err)
	}
	return doc, nil
}

func (index *Index) dataPath(id uuid.UUID) string {
	return filepath.Join(index.basePath, dataDir, id.String()+".json")
}

func (index *Index) entryPath(sagaType string, propertyName string, value string) string {
	sum := sha256.Sum256([]byte(value))
	return filepath.Join(index.basePath, indexDir, segment(sagaType), segment(propertyName), hex.EncodeToString(sum[:]))
}

// segment escapes a name so it is a single path element that never resolves to "." or "..".
func segment(name string) string {
	if name == "" {
		return "%00"
	}
	return strings.ReplaceAll(url.PathEscape(name), ".", "%2E")
}

func (doc *document) has(name string, value string) bool {
	for _, c := range doc.Correlations {
		if c.Name == name && c.Value == value {
			return true
		}
	}
	return false
}

func (doc *document) instance() (*saga.Instance, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt saga id %q: %w", doc.ID, err)
	}
	return &saga.Instance{
		ID:       id,
		Revision: doc.Revision,
		Type:     doc.Type,
		State:    doc.State,
	}, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
