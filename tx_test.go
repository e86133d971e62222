package odb

import (
	"errors"
	"fmt"
	"testing"
)

func TestTx_CreateAndDefaults(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	id := must(tx.Create(userTypeID))
	deepEqual(t, id.TypeStorageID(), uint32(userTypeID))
	deepEqual(t, must(tx.Exists(id)), true)
	deepEqual(t, must(tx.RecordedVersion(id)), 1)

	deepEqual[any](t, must(tx.ReadField(id, userEmail)), "")
	deepEqual[any](t, must(tx.ReadField(id, userAge)), int64(0))

	foo := must(tx.Create(fooTypeID))
	deepEqual[any](t, must(tx.ReadField(foo, fooF1)), nil)

	post := must(tx.Create(postTypeID))
	deepEqual[any](t, must(tx.ReadField(post, postAuthor)), ObjId{})
}

func TestTx_WriteReadRoundTrip(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	id := must(tx.Create(userTypeID))
	ensure(tx.WriteField(id, userEmail, "bob@example.com"))
	ensure(tx.WriteField(id, userAge, int64(34)))
	deepEqual[any](t, must(tx.ReadField(id, userEmail)), "bob@example.com")
	deepEqual[any](t, must(tx.ReadField(id, userAge)), int64(34))

	// Enum values round-trip for every declared label.
	foo := must(tx.Create(fooTypeID))
	for i, label := range fooLabels {
		ensure(tx.WriteField(foo, fooF1, EnumValue{label, i}))
		deepEqual[any](t, must(tx.ReadField(foo, fooF1)), EnumValue{label, i})
	}
}

func TestTx_EnumValidation(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	id := must(tx.Create(fooTypeID))
	bad := []EnumValue{
		{"BAR", 0},
		{"unknown", 1},
		{"FOO", -1},
		{"JAN", 3},
	}
	for _, ev := range bad {
		err := tx.WriteField(id, fooF1, ev)
		if !IsValidation(err) {
			t.Errorf("WriteField(%v) = %v, wanted validation error", ev, err)
		}
	}

	// Validation failures leave the transaction usable.
	ensure(tx.WriteField(id, fooF1, EnumValue{"JAN", 2}))
	deepEqual[any](t, must(tx.ReadField(id, fooF1)), EnumValue{"JAN", 2})
}

func TestTx_UnknownTypesAndFields(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	if _, err := tx.Create(999); !IsValidation(err) {
		t.Errorf("Create(999) = %v, wanted validation error", err)
	}

	id := must(tx.Create(userTypeID))
	if _, err := tx.ReadField(id, 999); !IsValidation(err) {
		t.Errorf("ReadField(999) = %v, wanted validation error", err)
	}
	if err := tx.WriteField(id, 999, "x"); !IsValidation(err) {
		t.Errorf("WriteField(999) = %v, wanted validation error", err)
	}
}

func TestTx_ReferenceValidation(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	post := must(tx.Create(postTypeID))
	author := must(tx.Create(userTypeID))
	ensure(tx.WriteField(post, postAuthor, author))
	deepEqual[any](t, must(tx.ReadField(post, postAuthor)), author)

	// The zero ObjId means "no reference" and is always allowed.
	ensure(tx.WriteField(post, postAuthor, ObjId{}))

	bogus := newObjId(999)
	if err := tx.WriteField(post, postAuthor, bogus); !IsValidation(err) {
		t.Errorf("WriteField(reference to unknown type) = %v, wanted validation error", err)
	}
}

func TestTx_DeleteRemovesObject(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	id := must(tx.Create(userTypeID))
	ensure(tx.WriteField(id, userEmail, "gone@example.com"))
	ensure(tx.Delete(id))

	deepEqual(t, must(tx.Exists(id)), false)
	if _, err := tx.ReadField(id, userEmail); !IsNotFound(err) {
		t.Errorf("ReadField after delete = %v, wanted not-found error", err)
	}
	if err := tx.Delete(id); !IsNotFound(err) {
		t.Errorf("second Delete = %v, wanted not-found error", err)
	}
}

func TestTx_TouchAfterDeleteFails(t *testing.T) {
	db := setup(t, schemaV1())
	tx := must(db.Begin(1))
	defer tx.Close()

	id := must(tx.Create(userTypeID))
	// Touch the object first so the per-transaction upgrade marker is set;
	// deletion must invalidate it.
	ensure(tx.WriteField(id, userEmail, "bye@example.com"))
	ensure(tx.Delete(id))

	if _, err := tx.ReadField(id, userEmail); !IsNotFound(err) {
		t.Errorf("ReadField after delete = %v, wanted not-found error", err)
	}
	if err := tx.WriteField(id, userEmail, "back@example.com"); !IsNotFound(err) {
		t.Errorf("WriteField after delete = %v, wanted not-found error", err)
	}

	// The failed write left no orphan field bytes and no dangling index
	// entry behind.
	deepEqual(t, countKeysWithPrefix(tx, objPrefix(id)), 0)
	deepEqual(t, countKeysWithPrefix(tx, indexPrefix(userEmail)), 0)
}

func TestTx_CommitPersists(t *testing.T) {
	db := setup(t, schemaV1())

	var id ObjId
	ensure(db.Update(1, func(tx *Tx) error {
		id = must(tx.Create(userTypeID))
		return tx.WriteField(id, userEmail, "alice@example.com")
	}))

	tx := must(db.Begin(1))
	defer tx.Close()
	deepEqual[any](t, must(tx.ReadField(id, userEmail)), "alice@example.com")
}

func TestTx_RollbackDiscards(t *testing.T) {
	db := setup(t, schemaV1())

	tx := must(db.Begin(1))
	id := must(tx.Create(userTypeID))
	ensure(tx.Rollback())

	tx2 := must(db.Begin(1))
	defer tx2.Close()
	deepEqual(t, must(tx2.Exists(id)), false)
}

func TestTx_UpdateRollsBackOnError(t *testing.T) {
	db := setup(t, schemaV1())

	var id ObjId
	boom := errors.New("boom")
	err := db.Update(1, func(tx *Tx) error {
		id = must(tx.Create(userTypeID))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update = %v, wanted boom", err)
	}

	tx := must(db.Begin(1))
	defer tx.Close()
	deepEqual(t, must(tx.Exists(id)), false)
}

func TestTx_ClosedTransaction(t *testing.T) {
	db := setup(t, schemaV1())

	tx := must(db.Begin(1))
	ensure(tx.Commit())

	if _, err := tx.Create(userTypeID); !errors.Is(err, ErrTxClosed) {
		t.Errorf("Create after commit = %v, wanted ErrTxClosed", err)
	}
	if _, err := tx.ReadField(ObjId{}, 1); !errors.Is(err, ErrTxClosed) {
		t.Errorf("ReadField after commit = %v, wanted ErrTxClosed", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Errorf("second Commit = %v, wanted ErrTxClosed", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback after commit = %v, wanted nil", err)
	}

	tx2 := must(db.Begin(1))
	ensure(tx2.Rollback())
	if err := tx2.Rollback(); err != nil {
		t.Errorf("second Rollback = %v, wanted nil", err)
	}
	tx2.Close() // also a no-op on a terminal transaction
}

func TestTx_ValidationQueue(t *testing.T) {
	db := setup(t, schemaV1())

	tx := must(db.Begin(1))
	defer tx.Close()

	var validated []ObjId
	tx.OnValidate(func(tx *Tx, id ObjId) error {
		validated = append(validated, id)
		return nil
	})

	a := must(tx.Create(userTypeID))
	b := must(tx.Create(userTypeID))
	c := must(tx.Create(userTypeID))
	ensure(tx.WriteField(a, userEmail, "a@x")) // re-queuing a is a no-op
	ensure(tx.Delete(c))                       // deleted objects are not validated

	ensure(tx.Commit())
	deepEqual(t, validated, []ObjId{a, b})
}

func TestTx_ValidationFailureAbortsCommit(t *testing.T) {
	db := setup(t, schemaV1())

	tx := must(db.Begin(1))
	defer tx.Close()
	tx.OnValidate(func(tx *Tx, id ObjId) error {
		email := must(tx.ReadField(id, userEmail))
		if email == "" {
			return fmt.Errorf("user %v has no email", id)
		}
		return nil
	})

	id := must(tx.Create(userTypeID))
	err := tx.Commit()
	if err == nil {
		t.Fatalf("Commit = nil, wanted validation failure")
	}

	tx2 := must(db.Begin(1))
	defer tx2.Close()
	deepEqual(t, must(tx2.Exists(id)), false)
}

func TestTx_ValidatorWritesAreValidated(t *testing.T) {
	db := setup(t, schemaV1())

	tx := must(db.Begin(1))
	defer tx.Close()

	var calls int
	tx.OnValidate(func(tx *Tx, id ObjId) error {
		calls++
		if must(tx.ReadField(id, userName)) == "" {
			return tx.WriteField(id, userName, "anonymous")
		}
		return nil
	})

	id := must(tx.Create(userTypeID))
	ensure(tx.Commit())

	// The write inside the validator re-queues the object, but each object
	// is validated at most once per commit.
	deepEqual(t, calls, 1)

	tx2 := must(db.Begin(1))
	defer tx2.Close()
	deepEqual[any](t, must(tx2.ReadField(id, userName)), "anonymous")
}
