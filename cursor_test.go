package ebtree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorForwardScanIsSortedOrder(t *testing.T) {
	env := openTestEnv(t, Config{})
	keys := []string{"d", "b", "a", "c", "e"}

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Put(dbi, []byte(k), []byte("v-"+k), 0); err != nil {
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
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}
		var got []string
		for err := c.First(); err == nil; err = c.Next() {
			k, _, err := c.Current()
			if err != nil {
				return err
			}
			got = append(got, string(k))
		}
		require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
		return nil
	}))
}

func TestCursorBackwardScanIsReverseSortedOrder(t *testing.T) {
	env := openTestEnv(t, Config{})
	keys := []string{"d", "b", "a", "c", "e"}

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Put(dbi, []byte(k), nil, 0); err != nil {
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
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}
		var got []string
		for err := c.Last(); err == nil; err = c.Prev() {
			k, _, err := c.Current()
			if err != nil {
				return err
			}
			got = append(got, string(k))
		}
		require.Equal(t, []string{"e", "d", "c", "b", "a"}, got)
		return nil
	}))
}

func TestCursorSeekLandsOnSmallestKeyGreaterOrEqual(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for _, k := range []string{"a", "c", "e", "g"} {
			if err := txn.Put(dbi, []byte(k), []byte(k), 0); err != nil {
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
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}

		require.NoError(t, c.Seek([]byte("b")))
		k, _, err := c.Current()
		require.NoError(t, err)
		require.Equal(t, "c", string(k))

		require.NoError(t, c.Seek([]byte("c")))
		k, _, err = c.Current()
		require.NoError(t, err)
		require.Equal(t, "c", string(k))

		err = c.Seek([]byte("z"))
		require.True(t, IsNotFound(err), "seeking past the last key must report ErrNotFound")
		return nil
	}))
}

func TestCursorScanAcrossManyPagesStaysSorted(t *testing.T) {
	env := openTestEnv(t, Config{PageSize: MinPageSize, MapSize: int64(64) << 20})
	const n = 300

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("k%05d", i))
			if err := txn.Put(dbi, key, []byte{byte(i)}, 0); err != nil {
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
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}
		count := 0
		prev := ""
		for err := c.First(); err == nil; err = c.Next() {
			k, _, err := c.Current()
			if err != nil {
				return err
			}
			if prev != "" {
				require.Greater(t, string(k), prev)
			}
			prev = string(k)
			count++
		}
		require.Equal(t, n, count)
		return nil
	}))
}

func TestCursorDeleteAdvancesToNextKey(t *testing.T) {
	env := openTestEnv(t, Config{})
	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDatabase("", 0)
		if err != nil {
			return err
		}
		for _, k := range []string{"a", "b", "c"} {
			if err := txn.Put(dbi, []byte(k), []byte(k), 0); err != nil {
				return err
			}
		}
		c, err := txn.Cursor(dbi)
		if err != nil {
			return err
		}
		require.NoError(t, c.Seek([]byte("b")))
		require.NoError(t, c.Delete())
		k, _, err := c.Current()
		require.NoError(t, err)
		require.Equal(t, "c", string(k))
		return nil
	}))
}
