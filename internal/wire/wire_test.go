package wire

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	pv := int64(4)
	req := &Request{
		Type:          TypePush,
		PulledVersion: &pv,
		Rows:          []Row{{ID: 1, Version: 2, Data: "Ivan,15"}},
		NewRows:       []Row{{Data: "new,row"}},
	}

	enc, err := Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeRequest(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Type != TypePush {
		t.Fatalf("type = %v, want push", got.Type)
	}
	if len(got.Rows) != 1 || got.Rows[0].ID != 1 || got.Rows[0].Version != 2 || got.Rows[0].Data != "Ivan,15" {
		t.Fatalf("rows = %+v", got.Rows)
	}
	if len(got.NewRows) != 1 || got.NewRows[0].Data != "new,row" {
		t.Fatalf("new rows = %+v", got.NewRows)
	}
}

func TestPullResponseRoundTrip(t *testing.T) {
	resp := &PullResponse{
		Version: 3,
		Rows: []Row{
			{ID: 0, Version: 1, Data: "Name,Age"},
			{ID: 2, Version: 2, Data: "Bob,14"},
		},
	}
	enc, err := Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodePullResponse(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != 3 || len(got.Rows) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestPushResponseRoundTrip(t *testing.T) {
	resp := &PushResponse{
		Result:        ResultOK,
		Version:       5,
		ConflictCount: 1,
		ModifiedRows:  []IDRow{{ID: 2}},
		NewRows:       []IDRow{{ID: 4}, {ID: 5}},
	}
	enc, err := Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodePushResponse(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result != ResultOK || got.Version != 5 || got.ConflictCount != 1 {
		t.Fatalf("got %+v", got)
	}
	if len(got.NewRows) != 2 || got.NewRows[0].ID != 4 || got.NewRows[1].ID != 5 {
		t.Fatalf("new rows out of order: %+v", got.NewRows)
	}
}
