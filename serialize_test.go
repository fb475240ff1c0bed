package bezelagent

import (
	"bytes"
	"testing"
)

func serializeTestDataset() DeviceDataset {
	return DeviceDataset{
		Metadata: Metadata{
			Author:  "BezelKit Maintainers",
			Project: "BezelKit",
			Website: "https://example.com/bezel?tools=1&n=2",
		},
		Devices: map[string]map[string]DeviceRecord{
			CategoryIPhone: {
				"iPhone17,1": {Bezel: 62, Name: "iPhone 16 Pro"},
				"iPhone8,4":  {Bezel: 10.5, Name: "iPhone SE (1st generation)"},
			},
			CategoryIPad: {
				"iPad13,18": {Bezel: 18, Name: "iPad (10th generation)"},
			},
			CategoryIPod: {},
		},
		Pending: map[string]PendingEntry{
			"iPhone18,1": {Name: "iPhone 17"},
		},
		Problematic: map[string]PendingEntry{
			"iPod9,1": {Name: "iPod touch (7th generation)"},
		},
	}
}

const wantFullJSON = `{
  "_metadata": {
    "author": "BezelKit Maintainers",
    "project": "BezelKit",
    "website": "https://example.com/bezel?tools=1&n=2"
  },
  "devices": {
    "iPad": {
      "iPad13,18": {
        "bezel": 18,
        "name": "iPad (10th generation)"
      }
    },
    "iPhone": {
      "iPhone8,4": {
        "bezel": 10.5,
        "name": "iPhone SE (1st generation)"
      },
      "iPhone17,1": {
        "bezel": 62,
        "name": "iPhone 16 Pro"
      }
    }
  },
  "pending": {
    "iPhone18,1": {
      "name": "iPhone 17"
    }
  },
  "problematic": {
    "iPod9,1": {
      "name": "iPod touch (7th generation)"
    }
  }
}
`

const wantMinJSON = `{"_metadata":{"author":"BezelKit Maintainers","project":"BezelKit","website":"https://example.com/bezel?tools=1&n=2"},"devices":{"iPad":{"iPad13,18":{"bezel":18,"name":"iPad (10th generation)"}},"iPhone":{"iPhone8,4":{"bezel":10.5,"name":"iPhone SE (1st generation)"},"iPhone17,1":{"bezel":62,"name":"iPhone 16 Pro"}}}}`

func TestMarshalFull(t *testing.T) {
	got, err := MarshalFull(serializeTestDataset())
	if err != nil {
		t.Fatalf("MarshalFull returned error: %v", err)
	}
	if string(got) != wantFullJSON {
		t.Fatalf("unexpected full output:\n got: %s\nwant: %s", got, wantFullJSON)
	}
}

func TestMarshalMinified(t *testing.T) {
	got, err := MarshalMinified(serializeTestDataset())
	if err != nil {
		t.Fatalf("MarshalMinified returned error: %v", err)
	}
	if string(got) != wantMinJSON {
		t.Fatalf("unexpected minified output:\n got: %s\nwant: %s", got, wantMinJSON)
	}
}

func TestMarshalFullEmptyDataset(t *testing.T) {
	got, err := MarshalFull(DeviceDataset{})
	if err != nil {
		t.Fatalf("MarshalFull returned error: %v", err)
	}
	want := `{
  "_metadata": {
    "author": "",
    "project": "",
    "website": ""
  },
  "devices": {},
  "pending": {},
  "problematic": {}
}
`
	if string(got) != want {
		t.Fatalf("unexpected empty output:\n got: %s\nwant: %s", got, want)
	}
}

func TestMarshalIsByteStable(t *testing.T) {
	ds := serializeTestDataset()
	first, err := MarshalFull(ds)
	if err != nil {
		t.Fatalf("MarshalFull returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := MarshalFull(ds.Clone())
		if err != nil {
			t.Fatalf("MarshalFull returned error: %v", err)
		}
		if !bytes.Equal(first, next) {
			t.Fatalf("output differs between runs:\nfirst: %s\n next: %s", first, next)
		}
	}
}

func TestFullRoundTripPreservesBytes(t *testing.T) {
	ds, err := DecodeDataset([]byte(wantFullJSON))
	if err != nil {
		t.Fatalf("DecodeDataset returned error: %v", err)
	}
	out, err := MarshalFull(ds)
	if err != nil {
		t.Fatalf("MarshalFull returned error: %v", err)
	}
	if string(out) != wantFullJSON {
		t.Fatalf("round trip changed bytes:\n got: %s\nwant: %s", out, wantFullJSON)
	}
}
