package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		codes map[string]uint64
		want  []StatusBucket
	}{
		{
			name:  "nil codes",
			codes: nil,
			want:  nil,
		},
		{
			name:  "empty codes",
			codes: map[string]uint64{},
			want:  nil,
		},
		{
			name:  "single code",
			codes: map[string]uint64{"200": 10},
			want: []StatusBucket{
				{Class: "2xx", Code: "200", Count: 10},
			},
		},
		{
			name:  "sorted by count desc",
			codes: map[string]uint64{"200": 10, "500": 5, "404": 20},
			want: []StatusBucket{
				{Class: "4xx", Code: "404", Count: 20},
				{Class: "2xx", Code: "200", Count: 10},
				{Class: "5xx", Code: "500", Count: 5},
			},
		},
		{
			name:  "tie breaking by code",
			codes: map[string]uint64{"404": 3, "0": 3, "200": 3},
			want: []StatusBucket{
				{Class: "invalid", Code: "0", Count: 3},
				{Class: "2xx", Code: "200", Count: 3},
				{Class: "4xx", Code: "404", Count: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusCodes(tt.codes)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenStatusCodes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusClasses(t *testing.T) {
	got := StatusClasses(map[string]uint64{"200": 2, "201": 3, "503": 1, "0": 4})
	want := map[string]uint64{"2xx": 5, "5xx": 1, "invalid": 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StatusClasses() = %v, want %v", got, want)
	}
}
