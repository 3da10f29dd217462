package httpclient

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchFilter struct {
	Status string   `url:"status"`
	Tags   []string `url:"tags"`
	Limit  *int     `url:"limit"`
	Owner  struct {
		Name string `url:"name"`
	} `url:"owner"`
	Internal string `url:"-"`
	Note     string `url:"note,omitempty"`
}

func TestEncoder_Encode(t *testing.T) {
	limit := 10
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	type args struct {
		key      string
		value    any
		strategy Strategy
		format   CollectionFormat
	}

	tests := []struct {
		name    string
		encoder *Encoder
		args    args
		want    Pairs
		wantErr string
	}{
		{
			name:    "given int scalar, then renders one pair",
			encoder: NewEncoder(),
			args:    args{key: "id", value: 42},
			want:    Pairs{{Key: "id", Value: "42"}},
		},
		{
			name:    "given time scalar, then uses RFC3339",
			encoder: NewEncoder(),
			args:    args{key: "since", value: at},
			want:    Pairs{{Key: "since", Value: "2024-03-01T12:00:00Z"}},
		},
		{
			name:    "given custom time layout, then uses it",
			encoder: NewEncoder(WithTimeLayout(time.DateOnly)),
			args:    args{key: "since", value: at},
			want:    Pairs{{Key: "since", Value: "2024-03-01"}},
		},
		{
			name:    "given nil pointer, then renders nothing",
			encoder: NewEncoder(),
			args:    args{key: "limit", value: (*int)(nil)},
			want:    nil,
		},
		{
			name:    "given absent optional, then renders nothing",
			encoder: NewEncoder(),
			args:    args{key: "limit", value: None[int]()},
			want:    nil,
		},
		{
			name:    "given present optional, then renders its value",
			encoder: NewEncoder(),
			args:    args{key: "limit", value: Some(5)},
			want:    Pairs{{Key: "limit", Value: "5"}},
		},
		{
			name:    "given slice, then repeats the key in order",
			encoder: NewEncoder(),
			args:    args{key: "tag", value: []string{"b", "a", "c"}},
			want:    Pairs{{Key: "tag", Value: "b"}, {Key: "tag", Value: "a"}, {Key: "tag", Value: "c"}},
		},
		{
			name:    "given csv format, then joins with commas",
			encoder: NewEncoder(),
			args:    args{key: "tag", value: []int{1, 2, 3}, format: CollectionCSV},
			want:    Pairs{{Key: "tag", Value: "1,2,3"}},
		},
		{
			name:    "given pipes format, then joins with pipes",
			encoder: NewEncoder(),
			args:    args{key: "tag", value: []string{"x", "y"}, format: CollectionPipes},
			want:    Pairs{{Key: "tag", Value: "x|y"}},
		},
		{
			name:    "given empty slice, then renders nothing",
			encoder: NewEncoder(),
			args:    args{key: "tag", value: []string{}},
			want:    nil,
		},
		{
			name:    "given empty slice with strict presence, then renders bare key",
			encoder: NewEncoder(WithStrictPresence()),
			args:    args{key: "tag", value: []string{}},
			want:    Pairs{{Key: "tag", Bare: true}},
		},
		{
			name:    "given slice with nil elements, then skips them",
			encoder: NewEncoder(),
			args:    args{key: "n", value: []*int{&limit, nil, &limit}},
			want:    Pairs{{Key: "n", Value: "10"}, {Key: "n", Value: "10"}},
		},
		{
			name:    "given map, then renders keys sorted",
			encoder: NewEncoder(),
			args:    args{key: "", value: map[string]int{"b": 2, "a": 1}},
			want:    Pairs{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
		},
		{
			name:    "given NaN, then fails",
			encoder: NewEncoder(),
			args:    args{key: "x", value: math.NaN()},
			wantErr: "non-finite",
		},
		{
			name:    "given nil with scalar strategy, then fails",
			encoder: NewEncoder(),
			args:    args{key: "x", value: (*int)(nil), strategy: StrategyScalar},
			wantErr: "scalar value is absent",
		},
		{
			name:    "given channel as scalar, then fails",
			encoder: NewEncoder(),
			args:    args{key: "x", value: make(chan int), strategy: StrategyScalar},
			wantErr: "cannot be rendered as a scalar",
		},
		{
			name:    "given struct beyond max depth, then fails",
			encoder: NewEncoder(WithMaxDepth(1)),
			args:    args{key: "f", value: searchFilter{Status: "open"}},
			wantErr: "nested too deeply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.encoder.Encode(tt.args.key, tt.args.value, tt.args.strategy, tt.args.format)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncoder_Structured(t *testing.T) {
	limit := 25
	filter := searchFilter{
		Status:   "open",
		Tags:     []string{"go", "http"},
		Limit:    &limit,
		Internal: "secret",
	}
	filter.Owner.Name = "ada"

	got, err := NewEncoder().Encode("filter", filter, StrategyStructured, CollectionMulti)
	require.NoError(t, err)

	assert.Equal(t, "filter.status=open&filter.tags=go&filter.tags=http&filter.limit=25&filter.owner.name=ada", got.Encode())
}

func TestPairs_RoundTrip(t *testing.T) {
	type owner struct {
		Name string `url:"name"`
	}
	type query struct {
		Status string   `url:"status"`
		Tags   []string `url:"tags"`
		Limit  int      `url:"limit"`
		Owner  owner    `url:"owner"`
	}

	in := query{Status: "closed", Tags: []string{"a", "b"}, Limit: 3, Owner: owner{Name: "grace"}}

	pairs, err := NewEncoder().Encode("", in, StrategyStructured, CollectionMulti)
	require.NoError(t, err)

	parsed, err := ParsePairs(pairs.Encode())
	require.NoError(t, err)
	assert.Equal(t, pairs, parsed)

	var out query
	require.NoError(t, parsed.Decode(&out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPairs_Encode(t *testing.T) {
	tests := []struct {
		name  string
		pairs Pairs
		want  string
	}{
		{
			name:  "given no pairs, then returns empty string",
			pairs: nil,
			want:  "",
		},
		{
			name:  "given reserved characters, then escapes them",
			pairs: Pairs{{Key: "q", Value: "a&b=c d"}},
			want:  "q=a%26b%3Dc+d",
		},
		{
			name:  "given duplicate keys, then keeps insertion order",
			pairs: Pairs{{Key: "b", Value: "1"}, {Key: "a", Value: "2"}, {Key: "b", Value: "3"}},
			want:  "b=1&a=2&b=3",
		},
		{
			name:  "given bare pair, then renders key alone",
			pairs: Pairs{{Key: "ids", Bare: true}, {Key: "x", Value: "1"}},
			want:  "ids&x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pairs.Encode())
		})
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	v := map[string]any{"z": 1, "m": []string{"x", "y"}, "a": "first"}
	enc := NewEncoder()

	first, err := enc.Encode("", v, StrategyStructured, CollectionMulti)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := enc.Encode("", v, StrategyStructured, CollectionMulti)
		require.NoError(t, err)
		assert.Equal(t, first.Encode(), again.Encode())
	}
	assert.Equal(t, "a=first&m=x&m=y&z=1", first.Encode())
}
