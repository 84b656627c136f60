package ebtree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTxnPutGetDeleteBasic(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
			return err
		}
		v, err := txn.Get(dbi, []byte("k"))
		if err != nil {
			return err
		}
		require.Equal(t, "v", string(v))
		if err := txn.Delete(dbi, []byte("k")); err != nil {
			return err
		}
		_, err = txn.Get(dbi, []byte("k"))
		require.True(t, IsNotFound(err))
		return nil
	}))
}

func TestTxnDeleteTwiceReturnsNotFound(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v"), 0))
		require.NoError(t, txn.Delete(dbi, []byte("k")))
		err = txn.Delete(dbi, []byte("k"))
		require.True(t, IsNotFound(err), "deleting an already-deleted key must report ErrNotFound")
		return nil
	}))
}

func TestTxnPutNoOverwriteRejectsExistingKey(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v1"), 0))
		err = txn.Put(dbi, []byte("k"), []byte("v2"), PutNoOverwrite)
		require.True(t, IsKeyExists(err))
		return nil
	}))
}

func TestTxnKeyLengthBoundaries(t *testing.T) {
	env := openTestEnv(t, Config{MaxKeySize: 8})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		err = txn.Put(dbi, nil, []byte("v"), 0)
		require.Error(t, err, "an empty key must be rejected")

		err = txn.Put(dbi, []byte("a"), []byte("v"), 0)
		require.NoError(t, err, "a 1-byte key is the minimum valid length")

		maxKey := bytes.Repeat([]byte{'k'}, 8)
		require.NoError(t, txn.Put(dbi, maxKey, []byte("v"), 0))

		overLong := bytes.Repeat([]byte{'k'}, 9)
		err = txn.Put(dbi, overLong, []byte("v"), 0)
		require.Error(t, err, "a key one byte past MaxKeySize must be rejected")
		return nil
	}))
}

func TestTxnOverflowValueCopyOnWriteAcrossUpdate(t *testing.T) {
	env := openTestEnv(t, Config{})
	big1 := bytes.Repeat([]byte{0x11}, int(inlineThreshold(DefaultPageSize))+500)
	big2 := bytes.Repeat([]byte{0x22}, int(inlineThreshold(DefaultPageSize))+500)

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		return txn.Put(dbi, []byte("blob"), big1, 0)
	}))

	reader, err := env.BeginTxn(true)
	require.NoError(t, err)
	defer reader.Abort()

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		return txn.Put(dbi, []byte("blob"), big2, 0)
	}))

	dbi, err := reader.OpenDatabase("", 0)
	require.NoError(t, err)
	v, err := reader.Get(dbi, []byte("blob"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(v, big1), "a reader's snapshot must still see the pre-update overflow value")

	require.NoError(t, env.View(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		v, err := txn.Get(dbi, []byte("blob"))
		if err != nil {
			return err
		}
		require.True(t, bytes.Equal(v, big2))
		return nil
	}))
}

func TestTxnDupSortPutGetAllDelete(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("dup", DBDupSort)
		if err != nil {
			return err
		}
		for _, v := range []string{"z", "a", "m"} {
			if err := txn.PutDup(dbi, []byte("k"), []byte(v)); err != nil {
				return err
			}
		}
		all, err := txn.GetAllDup(dbi, []byte("k"))
		if err != nil {
			return err
		}
		require.Len(t, all, 3)

		if err := txn.DeleteDup(dbi, []byte("k"), []byte("a")); err != nil {
			return err
		}
		all, err = txn.GetAllDup(dbi, []byte("k"))
		if err != nil {
			return err
		}
		require.Len(t, all, 2)
		return nil
	}))
}

func TestTxnClearEmptiesDatabaseButKeepsItOpen(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("d", 0)
		if err != nil {
			return err
		}
		require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v"), 0))
		require.NoError(t, txn.Clear(dbi))
		_, err = txn.Get(dbi, []byte("k"))
		require.True(t, IsNotFound(err))
		return txn.Put(dbi, []byte("k2"), []byte("v2"), 0)
	}))
}

func TestSequentialLoadTenThousandEntries(t *testing.T) {
	env := openTestEnv(t, Config{MapSize: int64(256) << 20})
	const n = 10000

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%06d", i))
			if err := txn.Put(dbi, key, []byte(fmt.Sprintf("val-%d", i)), 0); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, env.View(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%06d", i))
			v, err := txn.Get(dbi, key)
			if err != nil {
				return err
			}
			require.Equal(t, fmt.Sprintf("val-%d", i), string(v))
		}
		return nil
	}))
}

func TestRandomInterleaveDeleteEveryThird(t *testing.T) {
	env := openTestEnv(t, Config{MapSize: int64(256) << 20})
	rng := rand.New(rand.NewSource(42))
	const n = 1000

	keys := make([]string, n)
	values := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("k-%04d", i)
		values[i] = make([]byte, 1+rng.Intn(200))
		rng.Read(values[i])
	}

	perm := rng.Perm(n)
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for _, idx := range perm {
			if err := txn.Put(dbi, []byte(keys[idx]), values[idx], 0); err != nil {
				return err
			}
		}
		for i := 2; i < n; i += 3 {
			if err := txn.Delete(dbi, []byte(keys[i])); err != nil {
				return err
			}
		}
		return nil
	}))

	expected := 0
	for i := 0; i < n; i++ {
		if i%3 != 2 {
			expected++
		}
	}
	require.Equal(t, 667, expected)

	path := env.path
	require.NoError(t, env.Close())
	env2, err := Open(path, Config{MapSize: int64(256) << 20})
	require.NoError(t, err)
	defer env2.Close()

	count := 0
	require.NoError(t, env2.View(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}
		err = c.First()
		for err == nil {
			count++
			err = c.Next()
		}
		if !IsNotFound(err) {
			return err
		}
		return nil
	}))
	require.Equal(t, expected, count)
}
