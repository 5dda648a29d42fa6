package meta

import (
	"encoding/json"
	"fmt"

	"github.com/letsencrypt/borp"
)

// typeConverter is used by borp for storing jsonColumn values as TEXT.
type typeConverter struct{}

func (typeConverter) ToDb(val interface{}) (interface{}, error) {
	switch t := val.(type) {
	case jsonColumn:
		if len(t) == 0 {
			return "null", nil
		}
		return string(t), nil
	default:
		return val, nil
	}
}

func (typeConverter) FromDb(target interface{}) (borp.CustomScanner, bool) {
	switch target.(type) {
	case *jsonColumn:
		binder := func(holder, target interface{}) error {
			s, ok := holder.(*string)
			if !ok {
				return fmt.Errorf("meta: FromDb: unable to convert %T to *string", holder)
			}
			t, ok := target.(*jsonColumn)
			if !ok {
				return fmt.Errorf("meta: FromDb: unable to convert %T to *jsonColumn", target)
			}
			if *s == "" {
				*t = jsonColumn(json.RawMessage("null"))
				return nil
			}
			*t = jsonColumn(json.RawMessage(*s))
			return nil
		}
		return borp.CustomScanner{Holder: new(string), Target: target, Binder: binder}, true
	default:
		return borp.CustomScanner{}, false
	}
}
