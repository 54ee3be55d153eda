package crypto

// EncryptionConfig contém configurações da identidade local
type EncryptionConfig struct {
	KeysDir          string // Diretório para armazenar chaves persistentes
	UseEphemeralOnly bool   // Se verdadeiro, não persiste chaves no disco
}
