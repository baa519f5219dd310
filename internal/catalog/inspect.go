package catalog

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Info summarizes a parquet file from its footer.
type Info struct {
	Rows    int64
	Columns []string
}

// Inspect reads the parquet footer at path without scanning row data.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return Info{}, fmt.Errorf("open parquet %s: %w", path, err)
	}

	info := Info{Rows: pf.NumRows()}
	for _, field := range pf.Schema().Fields() {
		info.Columns = append(info.Columns, field.Name())
	}
	return info, nil
}
