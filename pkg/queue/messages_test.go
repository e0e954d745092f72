package queue

import "testing"

func TestEncodeDecodeCaseMessage(t *testing.T) {
	body, err := EncodeCase(CaseBody{CaseNumber: "24CR012345-001", UserID: "user-1"})
	if err != nil {
		t.Fatalf("EncodeCase() error = %v", err)
	}

	cb, nb, err := DecodeSearchMessage(body)
	if err != nil {
		t.Fatalf("DecodeSearchMessage() error = %v", err)
	}
	if nb != nil {
		t.Fatal("DecodeSearchMessage() should not return a NameBody for a case message")
	}
	if cb == nil || cb.CaseNumber != "24CR012345-001" || cb.MessageType != MessageTypeCase {
		t.Fatalf("cb = %+v", cb)
	}
}

func TestEncodeDecodeNameMessage(t *testing.T) {
	body, err := EncodeName(NameBody{SearchID: "search-1", Name: "Doe, Jane", UserID: "user-1"})
	if err != nil {
		t.Fatalf("EncodeName() error = %v", err)
	}

	cb, nb, err := DecodeSearchMessage(body)
	if err != nil {
		t.Fatalf("DecodeSearchMessage() error = %v", err)
	}
	if cb != nil {
		t.Fatal("DecodeSearchMessage() should not return a CaseBody for a name message")
	}
	if nb == nil || nb.SearchID != "search-1" || nb.MessageType != MessageTypeName {
		t.Fatalf("nb = %+v", nb)
	}
}

func TestEncodeDecodeDataMessage(t *testing.T) {
	body, err := EncodeData(DataBody{CaseNumber: "24CR012345-001", CaseID: "case-abc", UserID: "user-1"})
	if err != nil {
		t.Fatalf("EncodeData() error = %v", err)
	}

	db, err := DecodeDataMessage(body)
	if err != nil {
		t.Fatalf("DecodeDataMessage() error = %v", err)
	}
	if db.CaseID != "case-abc" || db.MessageType != MessageTypeData {
		t.Fatalf("db = %+v", db)
	}
}
