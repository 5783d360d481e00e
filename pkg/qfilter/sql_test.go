package qfilter

import (
	"reflect"
	"testing"
)

func sqlCatalog() mapCatalog {
	c := testCatalog()
	c["birthday"] = Field{Path: "birthday", Label: "Birthday", Kind: KindDate}
	c["address__city"] = Field{Path: "address__city", Label: "Address city", Kind: KindText}
	return c
}

func TestSQLEncoderComparisons(t *testing.T) {
	tests := []struct {
		name     string
		cmp      Comparison
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "case insensitive equality",
			cmp:      Comparison{Key: "status__iexact", Value: "Open"},
			wantSQL:  "LOWER(properties->>'status') = LOWER($1)",
			wantArgs: []any{"Open"},
		},
		{
			name:     "contains escapes pattern characters",
			cmp:      Comparison{Key: "name__icontains", Value: `50%_\`},
			wantSQL:  "properties->>'name' ILIKE $1",
			wantArgs: []any{`%50\%\_\\%`},
		},
		{
			name:     "starts with",
			cmp:      Comparison{Key: "name__istartswith", Value: "P-"},
			wantSQL:  "properties->>'name' ILIKE $1",
			wantArgs: []any{"P-%"},
		},
		{
			name:     "ends with",
			cmp:      Comparison{Key: "name__iendswith", Value: "-X"},
			wantSQL:  "properties->>'name' ILIKE $1",
			wantArgs: []any{"%-X"},
		},
		{
			name:     "membership splits comma list",
			cmp:      Comparison{Key: "status__in", Value: "open, closed,pending"},
			wantSQL:  "properties->>'status' = ANY($1)",
			wantArgs: []any{[]string{"open", "closed", "pending"}},
		},
		{
			name:     "numeric ordering casts both sides",
			cmp:      Comparison{Key: "priority__gt", Value: "5"},
			wantSQL:  "(properties->>'priority')::numeric > $1::numeric",
			wantArgs: []any{"5"},
		},
		{
			name:     "timestamp ordering",
			cmp:      Comparison{Key: "created_at__lte", Value: "2024-01-01T00:00:00Z"},
			wantSQL:  "(properties->>'created_at')::timestamptz <= $1::timestamptz",
			wantArgs: []any{"2024-01-01T00:00:00Z"},
		},
		{
			name:     "text ordering stays uncast",
			cmp:      Comparison{Key: "name__lt", Value: "M"},
			wantSQL:  "properties->>'name' < $1",
			wantArgs: []any{"M"},
		},
		{
			name:     "date range",
			cmp:      Comparison{Key: "birthday__range", Value: "2020-01-01,2020-02-01"},
			wantSQL:  "(properties->>'birthday')::date BETWEEN $1::date AND $2::date",
			wantArgs: []any{"2020-01-01", "2020-02-01"},
		},
		{
			name:     "numeric range",
			cmp:      Comparison{Key: "priority__range", Value: "10,20"},
			wantSQL:  "(properties->>'priority')::numeric BETWEEN $1::numeric AND $2::numeric",
			wantArgs: []any{"10", "20"},
		},
		{
			name:    "null check",
			cmp:     Comparison{Key: "status__isnull", Value: true},
			wantSQL: "properties->>'status' IS NULL",
		},
		{
			name:    "presence check",
			cmp:     Comparison{Key: "status__isnull", Value: false},
			wantSQL: "properties->>'status' IS NOT NULL",
		},
		{
			name:    "boolean true leaf",
			cmp:     Comparison{Key: "active", Value: true},
			wantSQL: "(properties->>'active')::boolean IS TRUE",
		},
		{
			name:    "boolean false leaf",
			cmp:     Comparison{Key: "active", Value: false},
			wantSQL: "(properties->>'active')::boolean IS FALSE",
		},
		{
			name:     "bare key is case sensitive equality",
			cmp:      Comparison{Key: "status", Value: "open"},
			wantSQL:  "properties->>'status' = $1",
			wantArgs: []any{"open"},
		},
		{
			name:     "nested path descends the object",
			cmp:      Comparison{Key: "address__city__iexact", Value: "Leeds"},
			wantSQL:  "LOWER(properties->'address'->>'city') = LOWER($1)",
			wantArgs: []any{"Leeds"},
		},
		{
			name:     "negation wraps the clause",
			cmp:      Comparison{Key: "status__iexact", Value: "closed", Negate: true},
			wantSQL:  "NOT (LOWER(properties->>'status') = LOWER($1))",
			wantArgs: []any{"closed"},
		},
	}

	enc := NewSQLEncoder(&SQLEncoderOptions{Catalog: sqlCatalog()})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, args, err := enc.Encode(And{Children: []Comparison{tc.cmp}})
			if err != nil {
				t.Fatalf("unexpected encode error: %v", err)
			}
			if sql != tc.wantSQL {
				t.Errorf("sql mismatch:\nwant %s\ngot  %s", tc.wantSQL, sql)
			}
			if len(tc.wantArgs) == 0 && len(args) != 0 {
				t.Errorf("expected no args, got %v", args)
			}
			if len(tc.wantArgs) > 0 && !reflect.DeepEqual(args, tc.wantArgs) {
				t.Errorf("args mismatch:\nwant %#v\ngot  %#v", tc.wantArgs, args)
			}
		})
	}
}

func TestSQLEncoderJoinsGroups(t *testing.T) {
	tree := Or{Groups: []And{
		{Children: []Comparison{
			{Key: "name__icontains", Value: "pump"},
			{Key: "status__iexact", Value: "open"},
		}},
		{Children: []Comparison{
			{Key: "priority__gt", Value: "5"},
		}},
	}}

	sql, args, err := NewSQLEncoder(&SQLEncoderOptions{Catalog: sqlCatalog()}).Encode(tree)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	want := "(properties->>'name' ILIKE $1 AND LOWER(properties->>'status') = LOWER($2))" +
		" OR ((properties->>'priority')::numeric > $3::numeric)"
	if sql != want {
		t.Errorf("sql mismatch:\nwant %s\ngot  %s", want, sql)
	}
	if len(args) != 3 {
		t.Errorf("expected 3 args, got %v", args)
	}
}

func TestSQLEncoderArgOffset(t *testing.T) {
	tree := And{Children: []Comparison{{Key: "status__iexact", Value: "open"}}}

	sql, args, err := NewSQLEncoder(&SQLEncoderOptions{Catalog: sqlCatalog(), ArgOffset: 2}).Encode(tree)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if sql != "LOWER(properties->>'status') = LOWER($3)" {
		t.Errorf("placeholder numbering ignored offset: %s", sql)
	}
	if len(args) != 1 || args[0] != "open" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestSQLEncoderCustomColumn(t *testing.T) {
	tree := And{Children: []Comparison{{Key: "status__iexact", Value: "open"}}}

	sql, _, err := NewSQLEncoder(&SQLEncoderOptions{Column: "payload"}).Encode(tree)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if sql != "LOWER(payload->>'status') = LOWER($1)" {
		t.Errorf("custom column not honored: %s", sql)
	}
}

func TestSQLEncoderIdentityYieldsNoClause(t *testing.T) {
	sql, args, err := NewSQLEncoder(nil).Encode(MatchAll())
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if sql != "" || len(args) != 0 {
		t.Errorf("identity tree produced a clause: %q %v", sql, args)
	}
}

func TestSQLEncoderMalformedRange(t *testing.T) {
	tree := And{Children: []Comparison{{Key: "birthday__range", Value: "2020-01-01"}}}

	if _, _, err := NewSQLEncoder(&SQLEncoderOptions{Catalog: sqlCatalog()}).Encode(tree); err == nil {
		t.Fatalf("expected error for range without separator")
	}
}

func TestSQLEncoderUnknownFieldComparesAsText(t *testing.T) {
	tree := And{Children: []Comparison{{Key: "ghost__gt", Value: "5"}}}

	sql, _, err := NewSQLEncoder(&SQLEncoderOptions{Catalog: sqlCatalog()}).Encode(tree)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if sql != "properties->>'ghost' > $1" {
		t.Errorf("expected uncast text comparison, got %s", sql)
	}
}
