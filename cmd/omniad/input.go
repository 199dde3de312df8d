package main

import (
	"path/filepath"
	"strings"

	dataio "github.com/hed1ad/omniad/pkg/io"
	"github.com/hed1ad/omniad/pkg/io/csv"
	"github.com/hed1ad/omniad/pkg/io/pcap"
)

// openInput picks a reader by file extension. Captures are read as packets,
// everything else as CSV.
func openInput(path string, header bool) (dataio.Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng", ".cap":
		return pcap.NewFileReader(path)
	default:
		return csv.NewReader(path, csv.WithHeader(header))
	}
}

func readDataset(path string, header bool) (*dataio.Dataset, error) {
	r, err := openInput(path, header)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}
