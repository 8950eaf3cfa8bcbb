package qnode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// SQLServer answers PostgreSQL simple queries from DuckDB.
type SQLServer struct {
	db      *sql.DB
	metrics *metrics
	logger  log.Logger
}

func NewSQLServer(n *Node) *SQLServer {
	return &SQLServer{db: n.db, metrics: n.metrics, logger: n.logger}
}

// Serve accepts connections on ln until it is closed.
func (s *SQLServer) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting sql connection: %w", err)
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *SQLServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()

	backend := pgproto3.NewBackend(conn, conn)
	if err := s.startup(conn, backend); err != nil {
		level.Debug(s.logger).Log("msg", "sql startup failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			err := s.handleQuery(ctx, backend, msg.String)
			s.metrics.queries.WithLabelValues(status(err)).Inc()
			if err != nil {
				level.Debug(s.logger).Log("msg", "query failed", "err", err)
				s.sendError(backend, err)
			}
		case *pgproto3.Terminate:
			return
		default:
			s.sendError(backend, fmt.Errorf("unsupported message %T, only simple queries are served", msg))
		}
	}
}

func (s *SQLServer) startup(conn net.Conn, backend *pgproto3.Backend) error {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return err
		}
		switch msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return err
			}
			continue
		case *pgproto3.StartupMessage:
		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}

		backend.Send(&pgproto3.AuthenticationOk{})
		for name, value := range map[string]string{
			"server_version":              "15.0",
			"server_encoding":             "UTF8",
			"client_encoding":             "UTF8",
			"standard_conforming_strings": "on",
			"DateStyle":                   "ISO, MDY",
		} {
			backend.Send(&pgproto3.ParameterStatus{Name: name, Value: value})
		}
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return backend.Flush()
	}
}

func (s *SQLServer) handleQuery(ctx context.Context, backend *pgproto3.Backend, query string) error {
	if strings.TrimSpace(query) == "" {
		backend.Send(&pgproto3.EmptyQueryResponse{})
		backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
		return backend.Flush()
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	if len(columnTypes) > 0 {
		s.sendRowDescription(backend, columnTypes)
	}

	values := make([]any, len(columnTypes))
	scanArgs := make([]any, len(columnTypes))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	var n int
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		dataRow := &pgproto3.DataRow{Values: make([][]byte, len(values))}
		for i, val := range values {
			dataRow.Values[i] = encodeText(val)
		}
		backend.Send(dataRow)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT " + strconv.Itoa(n))})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	return backend.Flush()
}

// encodeText renders a DuckDB value in the PostgreSQL text format.
func encodeText(v any) []byte {
	switch v := v.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		return []byte(v)
	case bool:
		if v {
			return []byte("t")
		}
		return []byte("f")
	case time.Time:
		return []byte(v.Format("2006-01-02 15:04:05.999999"))
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (s *SQLServer) sendRowDescription(backend *pgproto3.Backend, columns []*sql.ColumnType) {
	fields := make([]pgproto3.FieldDescription, len(columns))
	for i, col := range columns {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(col.Name()),
			DataTypeOID:  mapDataTypeToOID(col.DatabaseTypeName()),
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       0,
		}
	}
	backend.Send(&pgproto3.RowDescription{Fields: fields})
}

// sendError reports err and leaves the connection ready for the next
// query.
func (s *SQLServer) sendError(backend *pgproto3.Backend, err error) {
	backend.Send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "XX000",
		Message:  err.Error(),
	})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	_ = backend.Flush()
}

func mapDataTypeToOID(databaseTypeName string) uint32 {
	switch databaseTypeName {
	case "BOOLEAN":
		return pgtype.BoolOID
	case "SMALLINT", "TINYINT":
		return pgtype.Int2OID
	case "INTEGER":
		return pgtype.Int4OID
	case "BIGINT", "HUGEINT", "UINTEGER":
		return pgtype.Int8OID
	case "FLOAT":
		return pgtype.Float4OID
	case "DOUBLE":
		return pgtype.Float8OID
	case "DATE":
		return pgtype.DateOID
	case "TIMESTAMP":
		return pgtype.TimestampOID
	case "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
		return pgtype.TimestamptzOID
	default:
		return pgtype.TextOID
	}
}
