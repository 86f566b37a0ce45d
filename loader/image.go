// Package loader reads metadata images and materialises their types into a
// vm.Registry. Images are encoded as canonical CBOR; the same structures
// decode from YAML so module definitions can be written by hand and compiled
// with Compile.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("loader: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is one module's metadata: its type definitions and the blob heap
// their literal constants point into.
type Image struct {
	Name  string    `cbor:"1,keyasint" yaml:"module"`
	Types []TypeDef `cbor:"2,keyasint,omitempty" yaml:"types"`
	Blobs []byte    `cbor:"3,keyasint,omitempty" yaml:"-"`
}

// TypeDef defines one class, struct, enum or interface.
type TypeDef struct {
	Token         uint32        `cbor:"1,keyasint" yaml:"token,omitempty"`
	Namespace     string        `cbor:"2,keyasint,omitempty" yaml:"namespace,omitempty"`
	Name          string        `cbor:"3,keyasint" yaml:"name"`
	Kind          string        `cbor:"4,keyasint,omitempty" yaml:"kind,omitempty"` // class, struct, enum, interface
	Access        string        `cbor:"5,keyasint,omitempty" yaml:"access,omitempty"`
	Abstract      bool          `cbor:"6,keyasint,omitempty" yaml:"abstract,omitempty"`
	Sealed        bool          `cbor:"7,keyasint,omitempty" yaml:"sealed,omitempty"`
	Parent        TypeSig       `cbor:"8,keyasint,omitempty" yaml:"parent,omitempty"`
	Underlying    TypeSig       `cbor:"9,keyasint,omitempty" yaml:"underlying,omitempty"` // enums
	DeclaringType string        `cbor:"10,keyasint,omitempty" yaml:"nested_in,omitempty"`
	Interfaces    []TypeSig     `cbor:"11,keyasint,omitempty" yaml:"interfaces,omitempty"`
	Fields        []FieldDef    `cbor:"12,keyasint,omitempty" yaml:"fields,omitempty"`
	Methods       []MethodDef   `cbor:"13,keyasint,omitempty" yaml:"methods,omitempty"`
	Properties    []PropertyDef `cbor:"14,keyasint,omitempty" yaml:"properties,omitempty"`
	Events        []EventDef    `cbor:"15,keyasint,omitempty" yaml:"events,omitempty"`
}

// Type kinds.
const (
	KindClass     = "class"
	KindStruct    = "struct"
	KindEnum      = "enum"
	KindInterface = "interface"
)

// FullName returns the name signatures use to refer to td.
func (td *TypeDef) FullName() string {
	if td.DeclaringType != "" {
		return td.DeclaringType + "+" + td.Name
	}
	if td.Namespace == "" {
		return td.Name
	}
	return td.Namespace + "." + td.Name
}

// kind returns the normalised kind, defaulting to class.
func (td *TypeDef) kind() string {
	if td.Kind == "" {
		return KindClass
	}
	return td.Kind
}

// FieldDef defines a field. Literal fields carry a constant in the image
// blob heap; in a YAML definition the constant is written as Value.
type FieldDef struct {
	Name       string  `cbor:"1,keyasint" yaml:"name"`
	Type       TypeSig `cbor:"2,keyasint" yaml:"type,omitempty"`
	Access     string  `cbor:"3,keyasint,omitempty" yaml:"access,omitempty"`
	Static     bool    `cbor:"4,keyasint,omitempty" yaml:"static,omitempty"`
	ReadOnly   bool    `cbor:"5,keyasint,omitempty" yaml:"readonly,omitempty"`
	Literal    bool    `cbor:"6,keyasint,omitempty" yaml:"literal,omitempty"`
	HasDefault bool    `cbor:"7,keyasint,omitempty" yaml:"-"`
	Constant   uint32  `cbor:"8,keyasint,omitempty" yaml:"-"`
	Data       []byte  `cbor:"9,keyasint,omitempty" yaml:"data,omitempty"`
	Value      any     `cbor:"-" yaml:"value,omitempty"`
}

// MethodDef defines a method. The names .ctor and .cctor declare the
// instance and type constructors.
type MethodDef struct {
	Token    uint32    `cbor:"1,keyasint" yaml:"token,omitempty"`
	Name     string    `cbor:"2,keyasint" yaml:"name"`
	Access   string    `cbor:"3,keyasint,omitempty" yaml:"access,omitempty"`
	Static   bool      `cbor:"4,keyasint,omitempty" yaml:"static,omitempty"`
	Virtual  bool      `cbor:"5,keyasint,omitempty" yaml:"virtual,omitempty"`
	Abstract bool      `cbor:"6,keyasint,omitempty" yaml:"abstract,omitempty"`
	Final    bool      `cbor:"7,keyasint,omitempty" yaml:"final,omitempty"`
	Return   TypeSig   `cbor:"8,keyasint,omitempty" yaml:"returns,omitempty"`
	Params   []TypeSig `cbor:"9,keyasint,omitempty" yaml:"params,omitempty"`
}

// PropertyDef names its accessors by method name or, for overloads, by
// signature ("get_Item(System.Int32)").
type PropertyDef struct {
	Name string `cbor:"1,keyasint" yaml:"name"`
	Get  string `cbor:"2,keyasint,omitempty" yaml:"get,omitempty"`
	Set  string `cbor:"3,keyasint,omitempty" yaml:"set,omitempty"`
}

// EventDef names its accessors like PropertyDef.
type EventDef struct {
	Name   string `cbor:"1,keyasint" yaml:"name"`
	Add    string `cbor:"2,keyasint,omitempty" yaml:"add,omitempty"`
	Remove string `cbor:"3,keyasint,omitempty" yaml:"remove,omitempty"`
	Raise  string `cbor:"4,keyasint,omitempty" yaml:"raise,omitempty"`
}

// Marshal serializes an image to canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes an image from CBOR bytes.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("loader: unmarshal image: %w", err)
	}
	if img.Name == "" {
		return nil, fmt.Errorf("loader: unmarshal image: missing module name")
	}
	return &img, nil
}

// ReadFile reads an image. Files ending in .yaml or .yml are compiled from a
// definition; anything else is decoded as CBOR.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		img, err := Compile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	}
	img, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// WriteFile writes img as CBOR.
func WriteFile(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return fmt.Errorf("loader: marshal image: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
