package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kiosk-core/internal/domain/operator"
)

const (
	batchSize  = 500
	bloomFPR   = 0.001
	minCodeLen = 4
	maxCodeLen = 32
)

// record is one validated CSV row.
type record struct {
	username string
	name     string
	hash     string
	line     int
}

// fileScan is the result of reading one file.
type fileScan struct {
	path    string
	records []record
	filter  *bloom.BloomFilter
}

// load reads every file concurrently and returns the operators to upsert.
//
// Codes must be unique across the registry, so a code hash used by two
// different usernames, within a file or across files, aborts the import.
// Cross-file collisions are found by testing each file's hashes against the
// other files' bloom filters and confirming the candidates exactly.
func load(ctx context.Context, files []string, pepper []byte) ([]operator.Operator, error) {
	scans := make([]fileScan, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			scan, err := scanFile(ctx, path, pepper)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			scans[i] = scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := checkCrossFile(scans); err != nil {
		return nil, err
	}

	// Later files override earlier ones for the same username.
	byUser := make(map[string]operator.Operator)
	var order []string
	for _, s := range scans {
		for _, r := range s.records {
			if _, ok := byUser[r.username]; !ok {
				order = append(order, r.username)
			}
			byUser[r.username] = operator.Operator{
				Username: r.username,
				Name:     r.name,
				CodeHash: r.hash,
			}
		}
	}
	ops := make([]operator.Operator, 0, len(order))
	for _, u := range order {
		ops = append(ops, byUser[u])
	}
	return ops, nil
}

func scanFile(ctx context.Context, path string, pepper []byte) (fileScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileScan{}, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fileScan{}, errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scan, err := parse(ctx, r, pepper)
	if err != nil {
		return fileScan{}, err
	}
	scan.path = path
	slog.Info("file scanned", slog.String("file", path), slog.Int("operators", len(scan.records)))
	return scan, nil
}

// parse reads username,name,code rows. A header row is skipped.
func parse(ctx context.Context, r io.Reader, pepper []byte) (fileScan, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		scan   fileScan
		owners = make(map[string]string)
		line   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return fileScan{}, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fileScan{}, errors.Wrap(err, "read csv")
		}
		line++
		username, name, code := strings.TrimSpace(row[0]), strings.TrimSpace(row[1]), strings.TrimSpace(row[2])
		if line == 1 && strings.EqualFold(username, "username") {
			continue
		}
		if username == "" {
			return fileScan{}, errors.Errorf("line %d: empty username", line)
		}
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			return fileScan{}, errors.Errorf("line %d: code length must be %d-%d", line, minCodeLen, maxCodeLen)
		}
		hash := operator.HashCode(pepper, code)
		if owner, ok := owners[hash]; ok && owner != username {
			return fileScan{}, errors.Errorf("line %d: code of %q already used by %q", line, username, owner)
		}
		owners[hash] = username
		scan.records = append(scan.records, record{username: username, name: name, hash: hash, line: line})
	}

	scan.filter = bloom.NewWithEstimates(uint(max(len(scan.records), 1)), bloomFPR)
	for _, rec := range scan.records {
		scan.filter.AddString(rec.hash)
	}
	return scan, nil
}

// checkCrossFile fails when one code hash belongs to different usernames in
// different files.
func checkCrossFile(scans []fileScan) error {
	type candidate struct {
		files    uint
		username string
		path     string
	}
	candidates := make(map[string]*candidate)
	for i, s := range scans {
		bit := uint(1) << uint(i)
		for _, rec := range s.records {
			hit := false
			for j, other := range scans {
				if j != i && other.filter.TestString(rec.hash) {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
			c, ok := candidates[rec.hash]
			if !ok {
				candidates[rec.hash] = &candidate{files: bit, username: rec.username, path: s.path}
				continue
			}
			if c.files&bit == 0 && c.username != rec.username {
				return errors.Errorf("%s line %d: code of %q already used by %q in %s",
					s.path, rec.line, rec.username, c.username, c.path)
			}
			c.files |= bit
		}
	}

	shared := 0
	for _, c := range candidates {
		if bits.OnesCount(c.files) >= 2 {
			shared++
		}
	}
	if shared > 0 {
		slog.Info("operators repeated across files", slog.Int("count", shared))
	}
	return nil
}
